// Package pluginloader materializes an in-memory application image and
// resolves its entry point, the Go analogue of dlopen+dlsym against an
// anonymous memory-backed file: write the image to a memfd, open it
// through /proc/self/fd/N, and look up the exported symbol.
package pluginloader

import (
	"fmt"
	"os"
	"plugin"

	"golang.org/x/sys/unix"

	"github.com/lrtsys/streamrouter/app/api"
	"github.com/lrtsys/streamrouter/internal/routererr"
)

// Handle is an opened plugin image. Close releases the memfd-backed file
// once the plugin is resolved; the in-process symbol table entries the
// Go runtime created from it persist for the process lifetime regardless
// (the stdlib plugin package never unloads), matching how dlclose on a
// dlopen'd .so only drops the loader's own reference.
type Handle struct {
	p    *plugin.Plugin
	file *os.File
}

// entrySymbol is the exported name every application image must provide.
const entrySymbol = "Start"

// Loader is the narrow capability boundary around in-memory plugin
// loading: load an image, resolve its entry point, close the handle.
// app.Registry depends on this interface, not the concrete memfd-backed
// implementation, so tests can substitute a fake loader without a real
// compiled plugin image.
type Loader interface {
	Load(image []byte) (Handle, error)
	Resolve(h Handle) (api.Plugin, error)
	Close(h Handle) error
}

// Memfd is the production Loader: materializes images via memfd_create
// and resolves them through the standard library's plugin package.
type Memfd struct{}

// Load writes image to an anonymous memfd, opens it as a Go plugin, and
// returns a Handle. A PluginLoad error means the image could not be
// materialized or opened; the caller must release the reserved app slot.
func (Memfd) Load(image []byte) (Handle, error) {
	fd, err := unix.MemfdCreate("streamrouter-app", 0)
	if err != nil {
		return Handle{}, routererr.New(routererr.PluginLoad, "pluginloader.Load", fmt.Errorf("memfd_create: %w", err))
	}
	file := os.NewFile(uintptr(fd), "streamrouter-app")

	if err := file.Truncate(int64(len(image))); err != nil {
		file.Close()
		return Handle{}, routererr.New(routererr.PluginLoad, "pluginloader.Load", fmt.Errorf("truncate memfd: %w", err))
	}
	if _, err := file.Write(image); err != nil {
		file.Close()
		return Handle{}, routererr.New(routererr.PluginLoad, "pluginloader.Load", fmt.Errorf("write memfd: %w", err))
	}

	path := fmt.Sprintf("/proc/self/fd/%d", fd)
	p, err := plugin.Open(path)
	if err != nil {
		file.Close()
		return Handle{}, routererr.New(routererr.PluginLoad, "pluginloader.Load", fmt.Errorf("plugin.Open: %w", err))
	}

	return Handle{p: p, file: file}, nil
}

// Resolve looks up the plugin's entry point and type-asserts it to
// api.Plugin.
func (Memfd) Resolve(h Handle) (api.Plugin, error) {
	sym, err := h.p.Lookup(entrySymbol)
	if err != nil {
		return nil, routererr.New(routererr.PluginLoad, "pluginloader.Resolve", fmt.Errorf("lookup %q: %w", entrySymbol, err))
	}
	app, ok := sym.(api.Plugin)
	if !ok {
		return nil, routererr.New(routererr.PluginLoad, "pluginloader.Resolve", fmt.Errorf("symbol %q does not implement api.Plugin", entrySymbol))
	}
	return app, nil
}

// Close releases the memfd-backed file. Safe to call once the plugin's
// symbols have been resolved.
func (Memfd) Close(h Handle) error {
	if h.file == nil {
		return nil
	}
	if err := h.file.Close(); err != nil {
		return routererr.New(routererr.Fatal, "pluginloader.Close", err)
	}
	return nil
}
