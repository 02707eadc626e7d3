// Package mocks provides gomock implementations of the chromatin core ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	jobs := mocks.NewMockJobRepository(ctrl)
//	jobs.EXPECT().Claim(gomock.Any(), jobID, gomock.Any()).Return(job, true, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/jakub-figat/chromatin/internal/core JobRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=sequence_repository_mock.go github.com/jakub-figat/chromatin/internal/core SequenceRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=structure_repository_mock.go github.com/jakub-figat/chromatin/internal/core StructureRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=reaper_repository_mock.go github.com/jakub-figat/chromatin/internal/core ReaperRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/jakub-figat/chromatin/internal/core CacheRepository
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=content_store_mock.go github.com/jakub-figat/chromatin/internal/core ContentStore
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=prediction_client_mock.go github.com/jakub-figat/chromatin/internal/core PredictionClient
