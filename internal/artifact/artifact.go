// Package artifact uploads training log artifacts to a remote bucket.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/thalesfsp/hpsearch"
)

// Uploader shells out to an upload script:
//
//	<Interpreter> <Script> <Bucket> <outputName> <Group>
//
// It implements hpsearch.ArtifactSink.
type Uploader struct {
	Interpreter string
	Script      string
	Bucket      string

	// Group is the experiment group label runs are filed under.
	Group string

	// Dir is the working directory of the script, typically the trainer's.
	Dir string
}

// New returns an Uploader running upload_to_s3.py with python.
func New(bucket, group string) *Uploader {
	return &Uploader{
		Interpreter: "python",
		Script:      "upload_to_s3.py",
		Bucket:      bucket,
		Group:       group,
	}
}

// Upload implements hpsearch.ArtifactSink. Failures wrap hpsearch.ErrUpload.
func (u *Uploader) Upload(ctx context.Context, outputName string) error {
	cmd := exec.CommandContext(ctx, u.Interpreter, u.Script, u.Bucket, outputName, u.Group)
	cmd.Dir = u.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v: %s", hpsearch.ErrUpload, outputName, err, strings.TrimSpace(stderr.String()))
	}

	logrus.Infof("Results uploaded to %s for experiment: %s", u.Bucket, outputName)

	return nil
}
