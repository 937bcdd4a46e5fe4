package exec

import (
	"kcore/kernel"
	"testing"
)

func TestStaticFS(t *testing.T) {
	var fs StaticFS

	if err := fs.AddFile("/sbin/init", []byte("init")); err != nil {
		t.Fatal(err)
	}

	if err := fs.AddDir("/etc/rc.d"); err != nil {
		t.Fatal(err)
	}

	if err := fs.AddFile("/etc/motd", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		path    string
		expData string
		expErr  *kernel.Error
	}{
		{"/sbin/init", "init", nil},
		{"//sbin/./init", "init", nil},
		{"/etc/motd", "hello", nil},
		{"/sbin/sh", "", ErrNotFound},
		{"sbin/init", "", ErrNotFound},
		{"", "", ErrNotFound},
		{"/sbin/init/child", "", ErrNotDir},
		{"/etc/rc.d", "", ErrNotRegular},
		{"/", "", ErrNotRegular},
	}

	for specIndex, spec := range specs {
		data, err := fs.Lookup(spec.path)
		if err != spec.expErr {
			t.Errorf("[spec %d] lookup %q: expected error %v; got %v", specIndex, spec.path, spec.expErr, err)
			continue
		}

		if string(data) != spec.expData {
			t.Errorf("[spec %d] lookup %q: expected data %q; got %q", specIndex, spec.path, spec.expData, string(data))
		}
	}
}

func TestStaticFSAddErrors(t *testing.T) {
	var fs StaticFS

	if err := fs.AddFile("/bin/sh", nil); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		descr  string
		add    func() *kernel.Error
		expErr *kernel.Error
	}{
		{"relative file path", func() *kernel.Error { return fs.AddFile("bin/ls", nil) }, ErrNotFound},
		{"root as file", func() *kernel.Error { return fs.AddFile("/", nil) }, ErrNotFound},
		{"file below file", func() *kernel.Error { return fs.AddFile("/bin/sh/x", nil) }, ErrNotDir},
		{"dir over file", func() *kernel.Error { return fs.AddDir("/bin/sh") }, ErrNotDir},
		{"file over dir", func() *kernel.Error { return fs.AddFile("/bin", nil) }, ErrNotRegular},
	}

	for specIndex, spec := range specs {
		if err := spec.add(); err != spec.expErr {
			t.Errorf("[spec %d] %s: expected error %v; got %v", specIndex, spec.descr, spec.expErr, err)
		}
	}

	if err := fs.AddFile("/bin/sh", []byte("replaced")); err != nil {
		t.Fatal(err)
	}

	if data, _ := fs.Lookup("/bin/sh"); string(data) != "replaced" {
		t.Errorf("expected file contents to be replaced; got %q", string(data))
	}
}
