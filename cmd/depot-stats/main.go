package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
)

type cacheStats struct {
	Entries        int    `json:"entries"`
	Loading        int    `json:"loading"`
	References     int    `json:"references"`
	Hits           uint64 `json:"hits"`
	Misses         uint64 `json:"misses"`
	CoalescedJoins uint64 `json:"coalescedJoins"`
	Evictions      uint64 `json:"evictions"`
	Misuses        uint64 `json:"misuses"`
}

type recentLoadsResponse struct {
	Success bool `json:"success"`
	Loads   []struct {
		Path       string  `json:"path"`
		Type       string  `json:"type"`
		Outcome    string  `json:"outcome"`
		DurationMS float64 `json:"durationMs"`
		OccurredAt string  `json:"occurredAt"`
	} `json:"loads"`
}

func makeRequest(httpClient *http.Client, url string) ([]byte, int, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return []byte{}, -1, fmt.Errorf("Constructing request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return []byte{}, -1, fmt.Errorf("Making request: %w", err)
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, -1, fmt.Errorf("ReadAll: %w", err)
	}

	return data, resp.StatusCode, nil
}

func main() {
	baseURL := os.Getenv("DEPOT_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8123"
	}

	httpClient := &http.Client{}

	data, statusCode, err := makeRequest(httpClient, baseURL+"/v1/cache/stats")
	if err != nil {
		log.Fatalf("Failed to get cache stats: %s", err)
	}
	if statusCode != http.StatusOK {
		log.Fatalf("Failed to get cache stats: status %d: %s", statusCode, data)
	}

	var stats cacheStats
	if err := json.Unmarshal(data, &stats); err != nil {
		log.Fatalf("Failed to parse cache stats: %s", err)
	}

	fmt.Printf("Entries:         %d (%d loading)\n", stats.Entries, stats.Loading)
	fmt.Printf("References:      %d\n", stats.References)
	fmt.Printf("Hits/misses:     %d/%d (%d coalesced)\n", stats.Hits, stats.Misses, stats.CoalescedJoins)
	fmt.Printf("Evictions:       %d\n", stats.Evictions)
	fmt.Printf("Misuses:         %d\n", stats.Misuses)

	data, statusCode, err = makeRequest(httpClient, baseURL+"/v1/cache/loads?limit=10")
	if err != nil {
		log.Fatalf("Failed to get recent loads: %s", err)
	}
	if statusCode != http.StatusOK {
		log.Fatalf("Failed to get recent loads: status %d: %s", statusCode, data)
	}

	var recentLoads recentLoadsResponse
	if err := json.Unmarshal(data, &recentLoads); err != nil {
		log.Fatalf("Failed to parse recent loads: %s", err)
	}

	fmt.Println("\nRecent loads:")
	for _, load := range recentLoads.Loads {
		fmt.Printf("  %s  %-13s %7.1fms  %s:%s\n", load.OccurredAt, load.Outcome, load.DurationMS, load.Type, load.Path)
	}
}
