package languages

import (
	"path/filepath"
	"strings"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// Strategy describes how one language is built and started inside a sandbox.
// Paths passed to it are relative to the sandbox working directory.
type Strategy interface {
	Language() models.Language
	Image() string
	// SourceFile returns the file name the code must be written to.
	// base is a collision-free name chosen by the caller.
	SourceFile(base string) string
	// CompileArgs returns nil when the language has no compile phase.
	CompileArgs(source string) []string
	RunArgs(source string) []string
}

type command []string

func parseCommand(tpl string) (command, error) {
	args, err := shlex.Split(tpl)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid command template %q", tpl)
	}
	return args, nil
}

func (c command) render(source string) []string {
	artifact := strings.TrimSuffix(source, filepath.Ext(source))
	r := strings.NewReplacer(
		"{file}", source,
		"{executable}", artifact,
		"{class}", artifact,
	)
	out := make([]string, len(c))
	for i, arg := range c {
		out[i] = r.Replace(arg)
	}
	return out
}

type base struct {
	lang models.Language
	run  command
}

func (b *base) Language() models.Language { return b.lang }

func (b *base) Image() string { return b.lang.Image }

func (b *base) SourceFile(name string) string {
	if b.lang.SourceName != "" {
		return b.lang.SourceName
	}
	return name + "." + strings.TrimPrefix(b.lang.FileExtension, ".")
}

func (b *base) RunArgs(source string) []string { return b.run.render(source) }

type interpreted struct {
	base
}

func (i *interpreted) CompileArgs(string) []string { return nil }

type compiled struct {
	base
	build command
}

func (c *compiled) CompileArgs(source string) []string { return c.build.render(source) }

func NewStrategy(lang models.Language) (Strategy, error) {
	if strings.TrimSpace(lang.RunCommand) == "" {
		return nil, errors.Errorf("language %s: run command is empty", lang.Id)
	}
	run, err := parseCommand(lang.RunCommand)
	if err != nil {
		return nil, errors.Wrapf(err, "language %s", lang.Id)
	}
	b := base{lang: lang, run: run}
	if strings.TrimSpace(lang.CompileCommand) == "" {
		return &interpreted{base: b}, nil
	}
	build, err := parseCommand(lang.CompileCommand)
	if err != nil {
		return nil, errors.Wrapf(err, "language %s", lang.Id)
	}
	return &compiled{base: b, build: build}, nil
}
