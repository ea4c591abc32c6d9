// cmd/adminkey/main.go hashes an operator key into the ADMIN_KEY_HASH and
// ADMIN_KEY_SALT values the server reads at startup.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"memoria/internal/auth"
)

func main() {
	key := flag.String("key", "", "admin key to hash; read from stdin when empty")
	flag.Parse()

	if err := run(os.Stdout, os.Stdin, *key); err != nil {
		logrus.Fatalf("Failed to hash admin key: %v", err)
	}
}

func run(w io.Writer, stdin io.Reader, key string) error {
	if key == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read key: %w", err)
		}
		key = strings.TrimSpace(line)
	}
	if key == "" {
		return errors.New("admin key is empty")
	}

	hash, salt, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "ADMIN_KEY_HASH=%s\nADMIN_KEY_SALT=%s\n", hash, salt)
	return err
}
