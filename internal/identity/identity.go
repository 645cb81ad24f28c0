package identity

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Resolve determines the host identity by checking the explicit override
// and CI environment variables in order, falling back to the hostname.
func Resolve() string {
	checks := []struct {
		env    string
		prefix string
	}{
		{"LEASEKEEPER_HOST", ""},
		{"CI_JOB_ID", "gitlab-job-"},
		{"GITHUB_RUN_ID", "github-run-"},
		{"BUILD_ID", "jenkins-"},
		{"POD_NAME", "pod-"},
	}

	for _, c := range checks {
		if v := os.Getenv(c.env); v != "" {
			return c.prefix + v
		}
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		// Unique per process, so two unnamed hosts never share leases.
		return fmt.Sprintf("host-%s", uuid.NewString())
	}
	return fmt.Sprintf("host-%s", hostname)
}
