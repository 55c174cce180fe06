package docker_test

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type ComposeFile struct {
	Services map[string]Service `yaml:"services"`
	Networks map[string]Network `yaml:"networks"`
}

type Network struct {
	Driver string `yaml:"driver"`
}

type Service struct {
	Image       string         `yaml:"image"`
	Build       *Build         `yaml:"build"`
	Ports       []string       `yaml:"ports"`
	Environment []string       `yaml:"environment"`
	DependsOn   map[string]any `yaml:"depends_on"`
	Healthcheck *Healthcheck   `yaml:"healthcheck"`
	Restart     string         `yaml:"restart"`
	Command     string         `yaml:"command"`
	Networks    []string       `yaml:"networks"`
}

type Build struct {
	Context string `yaml:"context"`
}

type Healthcheck struct {
	Test     []string `yaml:"test"`
	Interval string   `yaml:"interval"`
	Retries  int      `yaml:"retries"`
}

func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..")
}

func readCompose(t *testing.T) ComposeFile {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(projectRoot(), "docker-compose.yml"))
	if err != nil {
		t.Fatalf("failed to read docker-compose.yml: %v", err)
	}
	var compose ComposeFile
	if err := yaml.Unmarshal(data, &compose); err != nil {
		t.Fatalf("failed to parse docker-compose.yml: %v", err)
	}
	return compose
}

func hasEnv(svc Service, want string) bool {
	return slices.ContainsFunc(svc.Environment, func(e string) bool { return strings.HasPrefix(e, want) })
}

func TestDockerComposeHasAllServices(t *testing.T) {
	compose := readCompose(t)
	for _, name := range []string{"tablecast", "redis", "nats"} {
		if _, ok := compose.Services[name]; !ok {
			t.Errorf("missing service: %s", name)
		}
	}
}

func TestNodeService(t *testing.T) {
	node := readCompose(t).Services["tablecast"]

	if node.Build == nil || node.Build.Context != "." {
		t.Error("tablecast should build from the module root")
	}
	if !slices.Contains(node.Ports, "3001:3001") {
		t.Errorf("expected port mapping 3001:3001, got %v", node.Ports)
	}
	for _, dep := range []string{"redis", "nats"} {
		if _, ok := node.DependsOn[dep]; !ok {
			t.Errorf("tablecast should depend on %s", dep)
		}
	}
	if node.Healthcheck == nil || !strings.Contains(strings.Join(node.Healthcheck.Test, " "), "/health") {
		t.Error("tablecast healthcheck should probe /health")
	}

	for _, env := range []string{"REDIS_ADDR=redis:6379", "NATS_URL=nats://nats:4222", "TABLECAST_JWT_SECRET=", "TABLECAST_INGRESS_TOKEN="} {
		if !hasEnv(node, env) {
			t.Errorf("tablecast should set %s", env)
		}
	}
}

func TestRedisIsEphemeral(t *testing.T) {
	redis := readCompose(t).Services["redis"]
	if !strings.HasPrefix(redis.Image, "redis:") {
		t.Errorf("redis image should be redis:*, got %s", redis.Image)
	}
	if redis.Healthcheck == nil {
		t.Error("redis should have a healthcheck")
	}
	// Redis only carries ingress pub/sub; nothing should be persisted.
	if !strings.Contains(redis.Command, "--appendonly no") {
		t.Error("redis should run without persistence")
	}
}

func TestDockerfileContent(t *testing.T) {
	data, err := os.ReadFile(filepath.Join(projectRoot(), "Dockerfile"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	if !strings.Contains(content, "FROM golang:") {
		t.Error("should use golang base image")
	}
	if !strings.Contains(content, "AS builder") {
		t.Error("should use multi-stage build")
	}
	if !strings.Contains(content, "./cmd/server") {
		t.Error("should build the server command")
	}
	if !strings.Contains(content, "EXPOSE 3001") {
		t.Error("should expose port 3001")
	}
}

func TestDockerignore(t *testing.T) {
	data, err := os.ReadFile(filepath.Join(projectRoot(), ".dockerignore"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{".git", "_examples"} {
		if !strings.Contains(string(data), want) {
			t.Errorf(".dockerignore should exclude %s", want)
		}
	}
}

func TestRestartPolicies(t *testing.T) {
	for name, svc := range readCompose(t).Services {
		if svc.Restart != "unless-stopped" {
			t.Errorf("service %s should have restart: unless-stopped, got %q", name, svc.Restart)
		}
	}
}

func TestAllServicesOnNetwork(t *testing.T) {
	compose := readCompose(t)
	net, ok := compose.Networks["tablecast"]
	if !ok {
		t.Fatal("tablecast network should be defined at the top level")
	}
	if net.Driver != "bridge" {
		t.Errorf("tablecast network driver should be bridge, got %q", net.Driver)
	}
	for name, svc := range compose.Services {
		if !slices.Contains(svc.Networks, "tablecast") {
			t.Errorf("service %s should be on tablecast network", name)
		}
	}
}
