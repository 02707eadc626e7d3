package service

import (
	"strconv"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/domain/model"
)

// Result cache kinds.
const (
	cacheKindAlignment = "alignment"
	cacheKindStructure = "structure"
)

// alignmentCacheKey addresses an alignment by the content of both inputs, their order and every
// parameter that changes the output.
func alignmentCacheKey(c *core.ResultCache, hash1, hash2 string, p model.PairwiseAlignmentParams) string {
	if c == nil {
		return ""
	}
	p = p.WithDefaults()
	sc := p.Scoring()
	return c.Key(cacheKindAlignment,
		hash1, hash2, string(p.AlignmentType),
		formatScore(sc.MatchScore), formatScore(sc.MismatchScore),
		formatScore(sc.GapOpenScore), formatScore(sc.GapExtendScore),
	)
}

// structureCacheKey addresses a prediction by residue content and model version.
func structureCacheKey(c *core.ResultCache, hash, modelVersion string) string {
	if c == nil {
		return ""
	}
	return c.Key(cacheKindStructure, hash, modelVersion)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
