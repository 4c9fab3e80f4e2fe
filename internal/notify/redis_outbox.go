package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

type RedisOutboxConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Timeout  time.Duration
}

// RedisOutbox pushes offer and exhaustion messages onto redis lists the
// notification service consumes. One short-lived connection per push;
// the dispatcher never calls this while holding a lock.
type RedisOutbox struct {
	cfg RedisOutboxConfig
}

func NewRedisOutbox(cfg RedisOutboxConfig) *RedisOutbox {
	if cfg.Key == "" {
		cfg.Key = "automatch:notify"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &RedisOutbox{cfg: cfg}
}

func (o *RedisOutbox) offersKey() string    { return o.cfg.Key + ":offers" }
func (o *RedisOutbox) exhaustedKey() string { return o.cfg.Key + ":exhausted" }

func (o *RedisOutbox) OfferNotified(ctx context.Context, offer Offer) error {
	payload, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return o.push(ctx, o.offersKey(), string(payload))
}

func (o *RedisOutbox) QueueExhausted(ctx context.Context, workItemID string) error {
	payload, err := json.Marshal(map[string]string{"workItemId": workItemID})
	if err != nil {
		return err
	}
	return o.push(ctx, o.exhaustedKey(), string(payload))
}

func (o *RedisOutbox) push(ctx context.Context, key, payload string) error {
	conn, rw, err := o.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := writeRESP(rw, "LPUSH", key, payload); err != nil {
		return err
	}
	if _, err := readRESP(rw); err != nil {
		return fmt.Errorf("redis LPUSH %s: %w", key, err)
	}
	return nil
}

func (o *RedisOutbox) connect(ctx context.Context) (net.Conn, *bufio.ReadWriter, error) {
	dialer := net.Dialer{Timeout: o.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", o.cfg.Addr)
	if err != nil {
		return nil, nil, err
	}
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	if o.cfg.Password != "" {
		if err := writeRESP(rw, "AUTH", o.cfg.Password); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		if _, err := readRESP(rw); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
	}
	if o.cfg.DB > 0 {
		if err := writeRESP(rw, "SELECT", strconv.Itoa(o.cfg.DB)); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		if _, err := readRESP(rw); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
	}
	return conn, rw, nil
}

func writeRESP(rw *bufio.ReadWriter, parts ...string) error {
	if _, err := fmt.Fprintf(rw, "*%d\r\n", len(parts)); err != nil {
		return err
	}
	for _, p := range parts {
		if _, err := fmt.Fprintf(rw, "$%d\r\n%s\r\n", len(p), p); err != nil {
			return err
		}
	}
	return rw.Flush()
}

func readRESP(rw *bufio.ReadWriter) (any, error) {
	prefix, err := rw.ReadByte()
	if err != nil {
		return nil, err
	}
	line, err := rw.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

	switch prefix {
	case '+', ':':
		return line, nil
	case '-':
		return nil, fmt.Errorf("redis error: %s", line)
	case '$':
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if n == -1 {
			return nil, nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(rw, buf); err != nil {
			return nil, err
		}
		return string(buf[:n]), nil
	default:
		return nil, errors.New("unsupported redis response prefix")
	}
}
