//go:build !linux && !darwin

package pagemem

func newMmapArena(path string, pageSize int, pages uint64) (arena, error) {
	return nil, ErrMmapUnsupported
}
