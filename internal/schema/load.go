package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadMode controls how errors are handled while loading schema files.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult is the outcome of loading a schema directory.
type LoadResult struct {
	Registry  *Registry
	FileCount int
}

// LoadDir loads every CUE file in dir, compiles the `entity` structs and
// returns a sealed registry.
func LoadDir(dir string) (*Registry, error) {
	result, errs := Load(dir, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return result.Registry, nil
}

// Load compiles a schema directory. In LoadModeCollectAll every entity is
// compiled and all errors are returned; the registry is only sealed when
// no entity failed.
func Load(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("schema directory: %w", err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("schema directory: not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("scan schema directory: %w", err)}
	}
	if len(files) == 0 {
		return nil, []error{fmt.Errorf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances loaded")}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{fmt.Errorf("loading CUE files: %w", formatCUEError(inst.Err))}
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{fmt.Errorf("building CUE value: %w", formatCUEError(err))}
	}

	reg, errs := compileRegistry(value, mode)
	return &LoadResult{Registry: reg, FileCount: len(files)}, errs
}

// CompileRegistry compiles the `entity` structs of an already built CUE value.
func CompileRegistry(value cue.Value) (*Registry, error) {
	reg, errs := compileRegistry(value, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return reg, nil
}

func compileRegistry(value cue.Value, mode LoadMode) (*Registry, []error) {
	var errs []error
	reg := NewRegistry()

	entitiesVal := value.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return reg, []error{fmt.Errorf("no entities found in schema")}
	}
	iter, err := entitiesVal.Fields()
	if err != nil {
		return reg, []error{formatCUEError(err)}
	}
	for iter.Next() {
		e, err := CompileEntity(iter.Value())
		if err == nil {
			err = reg.Register(e)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("entity.%s: %w", iter.Label(), err))
			if mode == LoadModeFailFast {
				return reg, errs
			}
		}
	}
	if len(errs) > 0 {
		return reg, errs
	}
	if err := reg.Seal(); err != nil {
		return reg, []error{err}
	}
	return reg, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
