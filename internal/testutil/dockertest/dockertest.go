// Package dockertest starts throwaway service containers for integration
// tests. Callers skip their tests when Setup reports an error, so machines
// without docker still run the unit suite.
package dockertest

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Container describes one image built from a Dockerfile at the repo root.
type Container struct {
	Dockerfile    string
	Name          string
	HostPort      string
	ContainerPort string
	ReadyTimeout  time.Duration
	Ready         func(addr string) error

	once     sync.Once
	setupErr error
}

const (
	pgUser     = "rakh"
	pgPassword = "secret"
	pgDB       = "rakh_shop_test"
)

// Postgres is the shared PostgreSQL container used by db/sql/postgres tests.
var Postgres = &Container{
	Dockerfile:    "Dockerfile.postgres.test",
	Name:          "rakh-shop-postgres-test",
	HostPort:      "55432",
	ContainerPort: "5432",
	ReadyTimeout:  10 * time.Second,
	Ready: func(addr string) error {
		return pingPostgres(postgresDSN(addr))
	},
}

// Redis is the shared Redis container used by cache/redis integration tests.
var Redis = &Container{
	Dockerfile:    "Dockerfile.redis.test",
	Name:          "rakh-shop-redis-test",
	HostPort:      "6390",
	ContainerPort: "6379",
	ReadyTimeout:  5 * time.Second,
	Ready:         pingRedis,
}

// Addr returns host:port of the published container port.
func (c *Container) Addr() string { return "127.0.0.1:" + c.HostPort }

// PostgresDSN returns the lib/pq connection string for the Postgres container.
func PostgresDSN() string { return postgresDSN(Postgres.Addr()) }

func postgresDSN(addr string) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", pgUser, pgPassword, addr, pgDB)
}

// Setup builds and launches the container once per process and waits until
// it answers its readiness check.
func (c *Container) Setup() error {
	c.once.Do(func() {
		if _, err := exec.LookPath("docker"); err != nil {
			c.setupErr = fmt.Errorf("docker executable not found: %w", err)
			return
		}
		_ = c.stop()
		root := repoRoot()
		if err := runDocker("build", "-f", filepath.Join(root, c.Dockerfile), "-t", c.Name, root); err != nil {
			c.setupErr = err
			return
		}
		if err := runDocker("run", "-d", "--rm", "--name", c.Name, "-p", c.HostPort+":"+c.ContainerPort, c.Name); err != nil {
			c.setupErr = err
			return
		}
		c.setupErr = c.waitReady()
	})
	return c.setupErr
}

// Teardown stops the container launched by Setup.
func (c *Container) Teardown() error {
	if c.setupErr != nil {
		return c.setupErr
	}
	return c.stop()
}

func (c *Container) waitReady() error {
	deadline := time.Now().Add(c.ReadyTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if lastErr = c.Ready(c.Addr()); lastErr == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("%s did not become ready: %w", c.Name, lastErr)
}

func (c *Container) stop() error {
	cmd := exec.Command("docker", "stop", c.Name)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "No such container") {
			return nil
		}
		return fmt.Errorf("docker stop failed: %w: %s", err, output)
	}
	return nil
}

func runDocker(args ...string) error {
	cmd := exec.Command("docker", args...)
	cmd.Dir = repoRoot()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s failed: %w: %s", args[0], err, output)
	}
	return nil
}

func pingPostgres(dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

func pingRedis(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("*1\r\n$4\r\nPING\r\n")); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return err
	}
	if !strings.Contains(line, "PONG") {
		return errors.New("unexpected ping reply " + strings.TrimSpace(line))
	}
	return nil
}

func repoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", ".."))
}
