package script

import (
	"context"
	"fmt"

	"github.com/book-expert/bulletin-reader/internal/command"
)

// XSLTProc applies stylesheets with the libxslt command line tool.
type XSLTProc struct {
	binary string
	runner command.Runner
}

// NewXSLTProc creates a transformer that runs binary, "xsltproc" if empty.
func NewXSLTProc(binary string, runner command.Runner) *XSLTProc {
	if binary == "" {
		binary = "xsltproc"
	}

	return &XSLTProc{binary: binary, runner: runner}
}

// Transform applies the stylesheet to the source document and returns the
// transform output. Network access from the stylesheet is disabled.
func (x *XSLTProc) Transform(ctx context.Context, sourcePath, stylesheetPath string) ([]byte, error) {
	result, err := x.runner.Run(ctx, x.binary, []string{"--nonet", stylesheetPath, sourcePath}, nil)
	if err != nil {
		return nil, fmt.Errorf("xsltproc %s: %w", stylesheetPath, err)
	}

	return result.Stdout, nil
}
