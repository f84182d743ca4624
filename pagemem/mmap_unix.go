//go:build linux || darwin

package pagemem

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// mmapArena maps a sparse file large enough for every page up front. The
// mapping is never grown, so page slices stay valid until close.
type mmapArena struct {
	file     *os.File
	data     []byte
	pageSize int
	pages    uint64
}

func newMmapArena(path string, pageSize int, pages uint64) (*mmapArena, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "open page file")
	}

	size := int64(pages) * int64(pageSize)
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "size page file")
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "map page file")
	}

	return &mmapArena{
		file:     file,
		data:     data,
		pageSize: pageSize,
		pages:    pages,
	}, nil
}

func (a *mmapArena) slot(index uint64) ([]byte, error) {
	if index >= a.pages {
		return nil, errors.Wrapf(ErrOutOfPages, "page %d beyond mapped region", index)
	}
	off := int(index) * a.pageSize
	return a.data[off : off+a.pageSize : off+a.pageSize], nil
}

// close flushes and unmaps the region. The file is left in place.
func (a *mmapArena) close() error {
	var err error
	if a.data != nil {
		if serr := unix.Msync(a.data, unix.MS_ASYNC); serr != nil {
			err = errors.Wrap(serr, "sync page file")
		}
		if uerr := unix.Munmap(a.data); uerr != nil {
			err = errors.CombineErrors(err, errors.Wrap(uerr, "unmap page file"))
		}
		a.data = nil
	}
	if cerr := a.file.Close(); cerr != nil {
		err = errors.CombineErrors(err, errors.Wrap(cerr, "close page file"))
	}
	return err
}
