package docker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// Prober checks whether a service at host:port accepts work. env is the
// environment the service container was started with.
type Prober func(ctx context.Context, host string, port int, env map[string]string) error

const probeTimeout = 3 * time.Second

// PostgresProbe connects with the credentials from the POSTGRES_* variables
// and pings the server.
func PostgresProbe(ctx context.Context, host string, port int, env map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, postgresDSN(host, port, env))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func postgresDSN(host string, port int, env map[string]string) string {
	user := env["POSTGRES_USER"]
	if user == "" {
		user = "postgres"
	}
	database := env["POSTGRES_DB"]
	if database == "" {
		database = user
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, env["POSTGRES_PASSWORD"]),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + database,
		RawQuery: "sslmode=disable&connect_timeout=2",
	}
	return u.String()
}

// TCPProbe only checks that the port accepts connections.
func TCPProbe(ctx context.Context, host string, port int, _ map[string]string) error {
	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return conn.Close()
}
