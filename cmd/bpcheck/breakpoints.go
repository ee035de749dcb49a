package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aivorynet/tracebreak-go/pkg/breakpoint"
	"github.com/aivorynet/tracebreak-go/pkg/condition"
	"github.com/aivorynet/tracebreak-go/pkg/pathcache"
	"gopkg.in/yaml.v3"
)

type breakpointFile struct {
	Breakpoints []breakpointEntry `yaml:"breakpoints"`
}

type breakpointEntry struct {
	File      string `yaml:"file"`
	Line      int    `yaml:"line"`
	Condition string `yaml:"condition"`
	Disabled  bool   `yaml:"disabled"`
}

func readBreakpointFile(path string) (*breakpointFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var bf breakpointFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&bf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for i, e := range bf.Breakpoints {
		if e.File == "" {
			return nil, fmt.Errorf("%s: breakpoint %d has no file", path, i+1)
		}
		if e.Line < 1 {
			return nil, fmt.Errorf("%s: breakpoint %d has invalid line %d", path, i+1, e.Line)
		}
	}
	return &bf, nil
}

// newEngine builds an engine with every breakpoint of the file activated.
func newEngine(opts *rootOptions) (*breakpoint.Engine, breakpoint.Breakpoints, error) {
	bf, err := readBreakpointFile(opts.breakpoints)
	if err != nil {
		return nil, nil, err
	}

	engine := breakpoint.NewEngine(
		breakpoint.WithCanonicalizer(pathcache.New(pathcache.WithDisabled(opts.noCache))),
		breakpoint.WithEvaluator(condition.New()),
	)

	bps := make(breakpoint.Breakpoints, 0, len(bf.Breakpoints))
	for _, e := range bf.Breakpoints {
		var bp *breakpoint.Breakpoint
		if e.Condition != "" {
			bp = breakpoint.NewConditional(e.File, e.Line, e.Condition)
		} else {
			bp = breakpoint.New(e.File, e.Line)
		}
		bp.SetEnabled(!e.Disabled)
		bps = append(bps, bp)
		engine.Activate(bps, bp.ID())
	}
	return engine, bps, nil
}
