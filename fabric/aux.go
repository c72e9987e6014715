package fabric

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// AuxConf is the settings/aux.yaml document: a one-off helper CLI the user
// can invoke with `c: <prompt>`. The prompt is passed as the final argument.
type AuxConf struct {
	Command        []string `yaml:"command"`
	TimeoutSeconds float64  `yaml:"timeout_seconds"`
}

func (c AuxConf) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// LoadAuxConf reads settings/aux.yaml.
func LoadAuxConf(home string) AuxConf {
	var c AuxConf
	_ = ReadYAMLFile(SettingsFile(home, "aux.yaml"), &c)
	return c
}

// RunAux executes the configured helper once with the prompt appended,
// returning exit code and combined output. rc -1 means it never ran.
func RunAux(home, prompt string) (rc int, output string, cmdLine string, err error) {
	conf := LoadAuxConf(home)
	if len(conf.Command) == 0 {
		return -1, "", "", exec.ErrNotFound
	}
	argv := append(append([]string{}, conf.Command...), prompt)
	cmdLine = strings.Join(argv, " ")

	ctx, cancel := context.WithTimeout(context.Background(), conf.timeout())
	defer cancel()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = home
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	output = buf.String()
	switch e := runErr.(type) {
	case nil:
		return 0, output, cmdLine, nil
	case *exec.ExitError:
		return e.ExitCode(), output, cmdLine, nil
	default:
		return -1, output, cmdLine, runErr
	}
}
