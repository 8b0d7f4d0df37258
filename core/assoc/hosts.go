package assoc

import (
	"bufio"
	"io"
	"os"

	"go.uber.org/zap"
)

// DefaultHosts is used when no host list resource is available. It spans
// multiple regions for redundancy against regional outages.
var DefaultHosts = []string{
	"time.apple.com",
	"time.google.com",
	"time.cloudflare.com",
	"time.windows.com",
	"0.pool.ntp.org",
	"1.pool.ntp.org",
	"2.pool.ntp.org",
	"3.pool.ntp.org",
	"0.north-america.pool.ntp.org",
	"0.europe.pool.ntp.org",
	"0.asia.pool.ntp.org",
	"0.oceania.pool.ntp.org",
}

// ParseHostList reads host names from r, one per line. Lines that are
// empty or whose first character is '#' or whitespace are skipped.
func ParseHostList(r io.Reader) ([]string, error) {
	var hosts []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		if line == "" {
			continue
		}
		if c := line[0]; c == '#' || c == ' ' || c == '\t' {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return hosts, nil
}

// LoadHostList reads the host list file at path. A missing or unreadable
// file falls back to DefaultHosts.
func LoadHostList(log *zap.Logger, path string) []string {
	if path == "" {
		return DefaultHosts
	}
	f, err := os.Open(path)
	if err != nil {
		log.Info("falling back to default host list", zap.Error(err))
		return DefaultHosts
	}
	defer f.Close()
	hosts, err := ParseHostList(f)
	if err != nil {
		log.Info("falling back to default host list",
			zap.String("path", path), zap.Error(err))
		return DefaultHosts
	}
	if len(hosts) == 0 {
		return DefaultHosts
	}
	return hosts
}
