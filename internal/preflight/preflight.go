// Package preflight checks that a host can run the RedELK server or agent
// before anything is installed.
package preflight

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"redelk/internal/executor"
)

// ErrPrerequisites is returned when a fatal check fails.
var ErrPrerequisites = errors.New("prerequisites not met")

// Status of one check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// Result is the outcome of one check.
type Result struct {
	Name   string
	Status Status
	Detail string
	Hint   string
}

// Report collects check results in the order they ran.
type Report struct {
	Results []Result
}

func (r *Report) add(res ...Result) {
	r.Results = append(r.Results, res...)
}

// Passed reports whether no fatal check failed.
func (r Report) Passed() bool {
	return len(r.Failures()) == 0
}

// Failures lists fatal results.
func (r Report) Failures() []Result {
	return r.filter(StatusFail)
}

// Warnings lists advisory results.
func (r Report) Warnings() []Result {
	return r.filter(StatusWarn)
}

func (r Report) filter(s Status) []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == s {
			out = append(out, res)
		}
	}
	return out
}

// Hints returns the remediation tips of failed and warned checks.
func (r Report) Hints() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status != StatusPass && res.Hint != "" {
			out = append(out, res.Hint)
		}
	}
	return out
}

// Err wraps ErrPrerequisites with the names of failed checks, or returns nil.
func (r Report) Err() error {
	fails := r.Failures()
	if len(fails) == 0 {
		return nil
	}
	names := make([]string, len(fails))
	for i, f := range fails {
		names[i] = f.Name
	}
	return fmt.Errorf("%w: %s", ErrPrerequisites, strings.Join(names, ", "))
}

// Rows renders the report for ui.Printer.Table.
func (r Report) Rows() [][]string {
	rows := make([][]string, len(r.Results))
	for i, res := range r.Results {
		rows[i] = []string{res.Name, string(res.Status), res.Detail}
	}
	return rows
}

// DockerProbe reports the daemon version when it is reachable.
type DockerProbe interface {
	Available(ctx context.Context) (string, error)
}

// Thresholds from the RedELK sizing guide.
const (
	MinMemory         = 4 * GiB
	RecommendedMemory = 8 * GiB
	MinDiskFree       = 20 * GiB
)

// RequiredPorts are published by the compose stack.
var RequiredPorts = []int{80, 443, 5044, 5601, 7474, 7687, 8443, 9200}

// Checker runs the individual checks. Zero fields fall back to the real system.
type Checker struct {
	Runner executor.Runner
	Docker DockerProbe // optional; the docker CLI is used when nil
	Host   HostInfo

	EUID              func() int
	DebianVersionPath string
	OSReleasePath     string
	DiskPath          string
	Ports             []int
	Dial              func(ctx context.Context, network, addr string) (net.Conn, error)
	DialTimeout       time.Duration
}

func (c *Checker) defaults() {
	if c.Host == nil {
		c.Host = SystemHost{}
	}
	if c.EUID == nil {
		c.EUID = os.Geteuid
	}
	if c.DebianVersionPath == "" {
		c.DebianVersionPath = "/etc/debian_version"
	}
	if c.OSReleasePath == "" {
		c.OSReleasePath = "/etc/os-release"
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
	if c.Ports == nil {
		c.Ports = RequiredPorts
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = time.Second
	}
	if c.Dial == nil {
		d := &net.Dialer{}
		c.Dial = d.DialContext
	}
}

// Agent runs the checks needed on C2 servers and redirectors.
func (c *Checker) Agent(ctx context.Context) Report {
	c.defaults()
	var r Report
	r.add(c.Root())
	r.add(c.OS())
	return r
}

// Server runs the full server checklist.
func (c *Checker) Server(ctx context.Context) Report {
	c.defaults()
	var r Report
	r.add(c.Root())
	r.add(c.OS())
	r.add(c.Memory(ctx))
	r.add(c.Disk(ctx))
	r.add(c.DockerDaemon(ctx))
	r.add(c.Compose(ctx))
	r.add(c.PortsFree(ctx)...)
	return r
}

// Root requires an effective UID of 0.
func (c *Checker) Root() Result {
	c.defaults()
	if c.EUID() == 0 {
		return Result{Name: "Root privileges", Status: StatusPass, Detail: "running as root"}
	}
	return Result{
		Name:   "Root privileges",
		Status: StatusFail,
		Detail: "must be run as root",
		Hint:   fmt.Sprintf("Run with sudo: sudo %s", strings.Join(os.Args, " ")),
	}
}

// OS requires a Debian family distribution.
func (c *Checker) OS() Result {
	c.defaults()
	if _, err := os.Stat(c.DebianVersionPath); err != nil {
		return Result{
			Name:   "Operating system",
			Status: StatusFail,
			Detail: "not a Debian/Ubuntu system",
			Hint:   "RedELK supports Ubuntu and Debian based systems only",
		}
	}
	return Result{Name: "Operating system", Status: StatusPass, Detail: osFamily(c.OSReleasePath)}
}

// osFamily names the distribution from os-release.
func osFamily(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "Debian-based"
	}
	defer f.Close()

	fields := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if ok {
			fields[k] = strings.Trim(v, `"`)
		}
	}
	switch {
	case strings.EqualFold(fields["ID"], "ubuntu"):
		return "Ubuntu " + fields["VERSION_ID"]
	case strings.EqualFold(fields["ID"], "debian"):
		return "Debian " + fields["VERSION_ID"]
	}
	return "Debian-based"
}

// Memory fails under MinMemory and warns under RecommendedMemory.
func (c *Checker) Memory(ctx context.Context) Result {
	c.defaults()
	total, err := c.Host.TotalMemory(ctx)
	if err != nil {
		return Result{Name: "Memory", Status: StatusWarn, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%.1f GB", float64(total)/GiB)
	switch {
	case total < MinMemory:
		return Result{Name: "Memory", Status: StatusFail, Detail: detail + " (minimum 4 GB)",
			Hint: "Add memory: RedELK needs at least 4 GB, 8 GB recommended"}
	case total < RecommendedMemory:
		return Result{Name: "Memory", Status: StatusWarn, Detail: detail + " (8 GB recommended)",
			Hint: "8 GB of memory is recommended for a full install"}
	}
	return Result{Name: "Memory", Status: StatusPass, Detail: detail}
}

// Disk warns when less than MinDiskFree is available.
func (c *Checker) Disk(ctx context.Context) Result {
	c.defaults()
	free, err := c.Host.DiskFree(ctx, c.DiskPath)
	if err != nil {
		return Result{Name: "Disk space", Status: StatusWarn, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%.1f GB free on %s", float64(free)/GiB, c.DiskPath)
	if free < MinDiskFree {
		return Result{Name: "Disk space", Status: StatusWarn, Detail: detail + " (20 GB recommended)",
			Hint: "Free up disk space: indices grow quickly during an operation"}
	}
	return Result{Name: "Disk space", Status: StatusPass, Detail: detail}
}

const dockerHint = "Install Docker: curl -fsSL https://get.docker.com | sh"

// DockerDaemon requires the docker CLI and a reachable daemon.
func (c *Checker) DockerDaemon(ctx context.Context) Result {
	c.defaults()
	res, err := c.Runner.Run(ctx, executor.Command{Name: "docker", Args: []string{"--version"}, Timeout: 5 * time.Second})
	if err != nil {
		return Result{Name: "Docker", Status: StatusFail, Detail: "docker not installed", Hint: dockerHint}
	}
	version := strings.TrimSpace(res.Stdout)

	if c.Docker != nil {
		if _, err := c.Docker.Available(ctx); err != nil {
			return Result{Name: "Docker", Status: StatusFail, Detail: "daemon not reachable: " + err.Error(),
				Hint: "Start Docker: systemctl start docker"}
		}
	} else if _, err := c.Runner.Run(ctx, executor.Command{Name: "docker", Args: []string{"ps"}, Timeout: 5 * time.Second}); err != nil {
		return Result{Name: "Docker", Status: StatusFail, Detail: "daemon not reachable",
			Hint: "Start Docker: systemctl start docker"}
	}
	return Result{Name: "Docker", Status: StatusPass, Detail: version}
}

// Compose requires the compose plugin or the standalone docker-compose.
func (c *Checker) Compose(ctx context.Context) Result {
	c.defaults()
	cmd, version, err := DetectCompose(ctx, c.Runner)
	if err != nil {
		return Result{Name: "Docker Compose", Status: StatusFail, Detail: "not installed",
			Hint: "Install Compose: sudo apt-get install -y docker-compose-plugin"}
	}
	return Result{Name: "Docker Compose", Status: StatusPass, Detail: fmt.Sprintf("%s (%s)", version, strings.Join(cmd, " "))}
}

// DetectCompose returns the command prefix for Compose and its version,
// preferring the docker plugin over the standalone binary.
func DetectCompose(ctx context.Context, runner executor.Runner) ([]string, string, error) {
	candidates := [][]string{
		{"docker", "compose", "version"},
		{"docker-compose", "--version"},
	}
	var lastErr error
	for _, argv := range candidates {
		res, err := runner.Run(ctx, executor.Command{Name: argv[0], Args: argv[1:], Timeout: 5 * time.Second})
		if err == nil {
			return argv[:len(argv)-1], strings.TrimSpace(res.Stdout), nil
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("docker compose not found: %w", lastErr)
}

// PortsFree warns for every required port something already listens on.
func (c *Checker) PortsFree(ctx context.Context) []Result {
	c.defaults()
	var busy []string
	for _, port := range c.Ports {
		if c.portInUse(ctx, port) {
			busy = append(busy, strconv.Itoa(port))
		}
	}
	if len(busy) == 0 {
		return []Result{{Name: "Ports", Status: StatusPass, Detail: "all required ports available"}}
	}
	return []Result{{
		Name:   "Ports",
		Status: StatusWarn,
		Detail: "in use: " + strings.Join(busy, ", "),
		Hint:   "Stop the services bound to ports " + strings.Join(busy, ", ") + " or the containers will fail to start",
	}}
}

func (c *Checker) portInUse(ctx context.Context, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	defer cancel()
	conn, err := c.Dial(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
