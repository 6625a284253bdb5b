package contract

import (
	_ "embed"
	"sync"

	"github.com/wippyai/weaver/il"
)

//go:embed library.yaml
var librarySource []byte

var (
	libraryOnce sync.Once
	library     *il.Module
	libraryErr  error
)

// LibraryName is the module name woven modules reference.
const LibraryName = "Weaver.Runtime"

// Library returns the linked run-time library module. The module is shared
// and must be treated as read-only.
func Library() (*il.Module, error) {
	libraryOnce.Do(func() {
		m, err := il.Decode(librarySource)
		if err != nil {
			libraryErr = err
			return
		}
		if err := il.Link(m, il.NewModuleSet(m)); err != nil {
			libraryErr = err
			return
		}
		if err := il.Validate(m); err != nil {
			libraryErr = err
			return
		}
		library = m
	})
	return library, libraryErr
}

// MustLibrary is Library that panics if the embedded module is broken.
func MustLibrary() *il.Module {
	m, err := Library()
	if err != nil {
		panic(err)
	}
	return m
}

// Resolver returns a resolver over mods followed by the run-time library.
func Resolver(mods ...*il.Module) (*il.ModuleSet, error) {
	lib, err := Library()
	if err != nil {
		return nil, err
	}
	return il.NewModuleSet(append(append([]*il.Module(nil), mods...), lib)...), nil
}
