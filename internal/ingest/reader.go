package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ErrSourceMissing is returned when a required source file does not exist.
var ErrSourceMissing = errors.New("source file not found")

func openSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

func readCSV[T any](path string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rows, nil
}

func readJSON[T any](path string) ([]T, error) {
	f, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []T
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rows, nil
}

// ReadDonors reads and parses a donors CSV file.
func ReadDonors(path string) ([]DonorRecord, error) { return readCSV(path, ParseDonors) }

// ReadCampaigns reads and parses a campaigns CSV file.
func ReadCampaigns(path string) ([]CampaignRecord, error) { return readCSV(path, ParseCampaigns) }

// ReadDonations reads and parses a donations CSV file.
func ReadDonations(path string) ([]DonationRecord, error) { return readCSV(path, ParseDonations) }

// ReadHabitats reads the habitat JSON array.
func ReadHabitats(path string) ([]HabitatRecord, error) { return readJSON[HabitatRecord](path) }

// ReadProjects reads the conservation project JSON array.
func ReadProjects(path string) ([]ProjectRecord, error) { return readJSON[ProjectRecord](path) }
