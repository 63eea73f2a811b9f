package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// config holds the defaults of the command line flags.
type config struct {
	numFrames     int
	pageSize      int
	tlbSize       int
	policy        string
	tlbPolicy     string
	stackSize     int
	demandLoading bool
	quantum       int
	monitorPort   int
}

func defaultConfig() config {
	return config{
		numFrames:     32,
		pageSize:      128,
		tlbSize:       4,
		policy:        "fifo",
		tlbPolicy:     "fifo",
		stackSize:     1024,
		demandLoading: true,
		quantum:       10,
	}
}

// loadDotEnv adds the variables of an env file to the environment. Variables
// that are already set are kept. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// configFromEnv reads the NACHOS_* variables on top of the defaults.
func configFromEnv() (config, error) {
	c := defaultConfig()

	ints := []struct {
		name string
		dst  *int
	}{
		{"NACHOS_NUM_FRAMES", &c.numFrames},
		{"NACHOS_PAGE_SIZE", &c.pageSize},
		{"NACHOS_TLB_SIZE", &c.tlbSize},
		{"NACHOS_STACK_SIZE", &c.stackSize},
		{"NACHOS_QUANTUM", &c.quantum},
		{"NACHOS_MONITOR_PORT", &c.monitorPort},
	}

	for _, v := range ints {
		value, ok := os.LookupEnv(v.name)
		if !ok {
			continue
		}

		n, err := strconv.Atoi(value)
		if err != nil {
			return c, fmt.Errorf("%s: %w", v.name, err)
		}

		*v.dst = n
	}

	if value, ok := os.LookupEnv("NACHOS_POLICY"); ok {
		c.policy = value
	}

	if value, ok := os.LookupEnv("NACHOS_TLB_POLICY"); ok {
		c.tlbPolicy = value
	}

	if value, ok := os.LookupEnv("NACHOS_DEMAND_LOADING"); ok {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return c, fmt.Errorf("NACHOS_DEMAND_LOADING: %w", err)
		}

		c.demandLoading = enabled
	}

	return c, nil
}
