package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/edgeorc/edgeorc/internal/coord"
	"github.com/edgeorc/edgeorc/internal/syncutil"
)

// DefaultRequestsFile is the conventional location of the requests file
//: "requests/requests.txt".
const DefaultRequestsFile = "requests/requests.txt"

// LoadRequests reads one Request per line from path, adds each to state,
// and increments pending to signal the Sporadic Server that work is
// available.
func LoadRequests(path string, state *coord.ApplicationState, pending *syncutil.Semaphore) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		req, err := coord.ParseRequest(line)
		if err != nil {
			return count, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
		state.AddRequest(req)
		pending.Increment()
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("config: read %s: %w", path, err)
	}

	return count, nil
}
