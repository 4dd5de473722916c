package job

import "github.com/h2oai/h2o-3-sub001/internal/model"

// Default interpreters.
const (
	DefaultRBin         = "R"
	DefaultPythonBin    = "python"
	DefaultPhantomJSBin = "phantomjs"
)

// Argv builds the invocation for this job against the cloud at endpoint.
func (j *Job) Argv(endpoint string) []string {
	c := j.cfg
	switch j.class.Lang {
	case model.LangR:
		argv := []string{c.RBin, "-f", j.script, "--args",
			"--usecloud", endpoint,
			"--resultsDir", c.OutputDir,
			"--testName", j.name,
		}
		return append(argv, modeFlag(j.class.Kind)...)

	case model.LangPython:
		argv := []string{c.PythonBin, j.script,
			"--usecloud", endpoint,
			"--resultsDir", c.OutputDir,
			"--testName", j.name,
		}
		return append(argv, modeFlag(j.class.Kind)...)

	case model.LangJS:
		return []string{c.PhantomJSBin, j.script,
			"--host", endpoint,
			"--resultsDir", c.OutputDir,
		}
	}
	return nil
}

// modeFlag selects the driver's execution mode. Unit tests need none.
func modeFlag(k model.Kind) []string {
	switch k {
	case model.KindDemo:
		return []string{"--demo"}
	case model.KindBooklet:
		return []string{"--booklet"}
	case model.KindNotebook:
		return []string{"--ipynb"}
	default:
		return nil
	}
}
