package tcpostgres

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultImage = "postgres:17"

// RaceDBContainer is a running postgres holding the race table for tests.
type RaceDBContainer struct {
	testcontainers.Container
	port     nat.Port
	user     string
	password string
	dbName   string
}

type containerSettings struct {
	image    string
	name     string
	port     nat.Port
	user     string
	password string
	dbName   string
	waitFor  []wait.Strategy
}

type ContainerOption func(s *containerSettings)

func WithImage(image string) ContainerOption {
	return func(s *containerSettings) { s.image = image }
}

// WithName gives the container a fixed name so later test runs reuse it.
func WithName(name string) ContainerOption {
	return func(s *containerSettings) { s.name = name }
}

func WithCredentials(user, password, dbName string) ContainerOption {
	return func(s *containerSettings) {
		s.user, s.password, s.dbName = user, password, dbName
	}
}

func WithReadyLog(line string, occurrence int) ContainerOption {
	return func(s *containerSettings) {
		s.waitFor = append(s.waitFor,
			wait.ForLog(line).WithOccurrence(occurrence).
				WithStartupTimeout(5*time.Second))
	}
}

// StartRaceDB launches the container. With a name set an already running
// container of that name is picked up instead.
func StartRaceDB(ctx context.Context, opts ...ContainerOption) (*RaceDBContainer, error) {
	s := containerSettings{
		image:    defaultImage,
		port:     "5432/tcp",
		user:     "postgres",
		password: "password",
		dbName:   "postgres",
	}
	for _, opt := range opts {
		opt(&s)
	}

	req := testcontainers.ContainerRequest{
		Image:        s.image,
		Name:         s.name,
		ExposedPorts: []string{string(s.port)},
		Env: map[string]string{
			"POSTGRES_USER":     s.user,
			"POSTGRES_PASSWORD": s.password,
			"POSTGRES_DB":       s.dbName,
		},
		// durability is irrelevant for throwaway test data
		Cmd: []string{"postgres", "-c", "fsync=off"},
	}
	if len(s.waitFor) > 0 {
		req.WaitingFor = wait.ForAll(s.waitFor...).WithDeadline(time.Minute)
	}

	c, err := testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
			Reuse:            s.name != "",
		})
	if err != nil {
		return nil, err
	}
	return &RaceDBContainer{
		Container: c,
		port:      s.port,
		user:      s.user,
		password:  s.password,
		dbName:    s.dbName,
	}, nil
}

// URL returns the connection string for the mapped host port.
func (c *RaceDBContainer) URL(ctx context.Context) (string, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	mapped, err := c.MappedPort(ctx, c.port)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s",
		c.user, c.password, host, mapped.Port(), c.dbName), nil
}
