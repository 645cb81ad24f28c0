package identity

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func clearEnv(t *testing.T) {
	for _, env := range []string{"LEASEKEEPER_HOST", "CI_JOB_ID", "GITHUB_RUN_ID", "BUILD_ID", "POD_NAME"} {
		t.Setenv(env, "")
	}
}

func TestResolveOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEASEKEEPER_HOST", "worker-7")
	t.Setenv("GITHUB_RUN_ID", "123")

	assert.Equal(t, "worker-7", Resolve())
}

func TestResolveCI(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"CI_JOB_ID", "gitlab-job-42"},
		{"GITHUB_RUN_ID", "github-run-42"},
		{"BUILD_ID", "jenkins-42"},
		{"POD_NAME", "pod-42"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, "42")
			assert.Equal(t, tt.want, Resolve())
		})
	}
}

func TestResolveHostname(t *testing.T) {
	clearEnv(t)
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		t.Skip("no hostname available")
	}
	assert.Equal(t, "host-"+hostname, Resolve())
}
