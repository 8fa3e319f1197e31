package config

import (
	"os"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// load compiles a single .cue file, or builds the CUE package in a
// directory. It also returns the files the value came from.
func (cp *CUEParser) load(path string) (cue.Value, []string, []ValidationError) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, nil, issue(path, err.Error())
	}
	if info.IsDir() {
		return cp.loadPackage(path)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, nil, issue(path, err.Error())
	}
	val := cp.ctx.CompileBytes(src, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cueIssues(err)
	}
	return val, []string{path}, nil
}

func (cp *CUEParser) loadPackage(dir string) (cue.Value, []string, []ValidationError) {
	insts := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(insts) == 0 {
		return cue.Value{}, nil, issue(dir, "no CUE package in directory")
	}
	if err := insts[0].Err; err != nil {
		return cue.Value{}, nil, cueIssues(err)
	}

	val := cp.ctx.BuildInstance(insts[0])
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cueIssues(err)
	}

	files := make([]string, 0, len(insts[0].Files))
	for _, f := range insts[0].Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	return val, files, nil
}

func issue(file, msg string) []ValidationError {
	return []ValidationError{{File: file, Message: msg, Severity: "error"}}
}

// cueIssues flattens a CUE error list, keeping the first position of each
// error.
func cueIssues(err error) []ValidationError {
	list := cueerrors.Errors(err)
	out := make([]ValidationError, 0, len(list))
	for _, e := range list {
		ve := ValidationError{
			Path:     strings.Join(e.Path(), "."),
			Message:  cueerrors.Details(e, nil),
			Severity: "error",
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File, ve.Line, ve.Column = pos[0].Filename(), pos[0].Line(), pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}
