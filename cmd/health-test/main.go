package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// HealthResponse mirrors GET /health. Database is "up" or the ping error.
type HealthResponse struct {
	Status        string          `json:"status"`
	Time          string          `json:"time"`
	Database      string          `json:"database"`
	VectorBackend string          `json:"vectorBackend"`
	Adapters      map[string]bool `json:"adapters"`
}

func main() {
	url := "http://localhost:8080/health"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	fmt.Printf("Testing health endpoint: %s\n", url)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("Error connecting to health endpoint: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Response Status: %s\n", resp.Status)

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		fmt.Printf("Error parsing JSON response: %v\n%s\n", err, body)
		os.Exit(1)
	}

	if health.Database != "up" {
		fmt.Printf("Database is down: %s\n", health.Database)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Health check failed with status %d (%s)\n", resp.StatusCode, health.Status)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	fmt.Printf("   Status: %s\n", health.Status)
	fmt.Printf("   Database: %s\n", health.Database)
	fmt.Printf("   Vector backend: %s\n", health.VectorBackend)
	for name, available := range health.Adapters {
		fmt.Printf("   Adapter %s available=%t\n", name, available)
	}
	fmt.Printf("   Time: %s\n", health.Time)
}
