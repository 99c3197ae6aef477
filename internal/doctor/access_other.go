//go:build !unix

package doctor

import "os"

func writable(dir string) error {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}

	name := f.Name()
	_ = f.Close()

	return os.Remove(name)
}
