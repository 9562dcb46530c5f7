// Command try judges a local source file against tests from a JSON file
// without any of the queue or database infrastructure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cutekitek/rankode-judge/internal/checker"
	"github.com/cutekitek/rankode-judge/internal/executor"
	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/languages"
	"github.com/cutekitek/rankode-judge/internal/repository/memory"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/internal/runner/docker"
	"github.com/cutekitek/rankode-judge/internal/runner/isolate"
	"github.com/cutekitek/rankode-judge/internal/runner/sandbox"
)

type testFile struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	Points int    `json:"points"`
}

func panicErr(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	lang := flag.String("lang", "", "language id, guessed from the file extension when empty")
	testsPath := flag.String("tests", "", "JSON file with [{\"input\":..., \"output\":...}]")
	langsPath := flag.String("languages", "languages", "languages directory")
	backend := flag.String("backend", "docker", "docker, sandbox or isolate")
	timeLimit := flag.Int64("time", 1000, "time limit in ms")
	memoryLimit := flag.Int64("memory", 256, "memory limit in MB")
	epsilon := flag.Float64("epsilon", 0, "numeric comparison tolerance")
	flag.Parse()
	if flag.NArg() != 1 || *testsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: try -tests tests.json [-lang id] source")
		os.Exit(2)
	}

	code, err := os.ReadFile(flag.Arg(0))
	panicErr(err)
	raw, err := os.ReadFile(*testsPath)
	panicErr(err)
	var tests []testFile
	panicErr(json.Unmarshal(raw, &tests))

	langs, err := languages.LoadDir(*langsPath)
	panicErr(err)
	registry, err := languages.NewRegistry(langs)
	panicErr(err)
	if *lang == "" {
		*lang = guessLanguage(langs, filepath.Ext(flag.Arg(0)))
	}

	var r runner.Runner
	switch *backend {
	case "docker":
		d, err := docker.NewDockerRunner(docker.DockerRunnerConfig{CpuCores: 1, TasksPerCpu: 1, PullImages: true})
		panicErr(err)
		defer d.Close()
		r = d
	case "sandbox":
		s := sandbox.NewSandboxRunner(sandbox.SandboxRunnerConfig{ContainersPoolSize: 1})
		panicErr(s.Init())
		defer s.Close()
		r = s
	case "isolate":
		i := isolate.NewIsolateRunner(isolate.IsolateRunnerConfig{})
		panicErr(i.Check())
		r = i
	default:
		panicErr(fmt.Errorf("unknown backend %q", *backend))
	}

	store := memory.NewStore()
	cases := make([]models.TestCase, 0, len(tests))
	for i, t := range tests {
		points := t.Points
		if points == 0 {
			points = 1
		}
		cases = append(cases, models.TestCase{
			Id:             int64(i + 1),
			Order:          int32(i),
			InputData:      t.Input,
			ExpectedOutput: t.Output,
			Points:         points,
		})
	}
	store.AddProblem(models.Problem{Id: 1, TimeLimit: *timeLimit, MemoryLimit: *memoryLimit}, cases...)
	store.AddSubmission(models.Submission{Id: 1, ProblemId: 1, LanguageId: *lang, Code: string(code), SubmittedAt: time.Now()})

	engine := judge.NewEngine(store, registry, executor.NewFactory(r, executor.Config{}), checker.NewComparator(*epsilon))
	report, err := engine.Run(context.Background(), 1)
	panicErr(err)

	for i, t := range report.Tests {
		fmt.Printf("test %d: %s %dms\n", i+1, t.Status, t.ExecutionTime)
		if t.ErrorMessage != "" {
			fmt.Println(strings.TrimSpace(t.ErrorMessage))
		}
	}
	f := report.Final
	fmt.Printf("%s score=%d passed=%d/%d time=%dms\n", f.Status, f.Score, f.TestCasesPassed, f.TotalTestCases, f.ExecutionTime)
	if f.Status != models.StatusAccepted {
		os.Exit(1)
	}
}

func guessLanguage(langs []models.Language, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	for _, l := range langs {
		if strings.TrimPrefix(l.FileExtension, ".") == ext {
			return l.Id
		}
	}
	return ext
}
