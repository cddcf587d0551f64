package credential

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RunShellCommand runs command with "sh -c" and returns the first line it
// prints on stdout. The rest of the output is discarded and the process is
// waited for.
func RunShellCommand(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", errors.Wrap(err, "cannot start command")
	}

	br := bufio.NewReader(stdout)
	line, readErr := br.ReadString('\n')
	io.Copy(io.Discard, br)

	if err := cmd.Wait(); err != nil {
		// The token is still usable if one was printed
		logrus.WithError(err).WithField("stderr", strings.TrimSpace(stderr.String())).
			Warn("credential: refresh command exited with an error")
		if strings.TrimSpace(line) == "" {
			return "", err
		}
	}
	if readErr != nil && readErr != io.EOF {
		return "", readErr
	}
	return strings.TrimRight(line, "\r\n"), nil
}
