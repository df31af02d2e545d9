package service

import (
	"strconv"

	"github.com/target/fbdispatch/internal/domain/model"
)

// PartitionCount returns the number of sub-jobs for a family with fontCount fonts: one per font
// plus one for the family-wide checks.
func PartitionCount(fontCount int) int {
	if fontCount < 0 {
		fontCount = 0
	}
	return fontCount + 1
}

// Partition splits fullOrder into PartitionCount(fontCount) contiguous slices of
// ceil(len(fullOrder)/K) checks and returns one distributed envelope per slice. The last slice
// may be shorter; when there are fewer checks than partitions the trailing envelopes carry an
// empty order. Sub-job ids are the slice indexes.
func Partition(origin model.JobEnvelope, fullOrder []model.CheckIdentity, fontCount int) []model.JobEnvelope {
	k := PartitionCount(fontCount)
	size := (len(fullOrder) + k - 1) / k

	out := make([]model.JobEnvelope, 0, k)
	for i := range k {
		lo := min(i*size, len(fullOrder))
		hi := min(lo+size, len(fullOrder))
		order := make([]model.CheckIdentity, hi-lo)
		copy(order, fullOrder[lo:hi])

		out = append(out, model.JobEnvelope{
			Kind:     model.JobKindDistributed,
			DocID:    origin.DocID,
			SubJobID: strconv.Itoa(i),
			CacheKey: origin.CacheKey,
			Order:    order,
		})
	}
	return out
}

// CheckIndex maps each check key of fullOrder to its position.
func CheckIndex(fullOrder []model.CheckIdentity) map[string]int {
	index := make(map[string]int, len(fullOrder))
	for i, c := range fullOrder {
		index[c.Key()] = i
	}
	return index
}

// SubJobIDs returns the sub-job ids of envs in order.
func SubJobIDs(envs []model.JobEnvelope) []string {
	ids := make([]string, len(envs))
	for i, e := range envs {
		ids[i] = e.SubJobID
	}
	return ids
}
