package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/config"
	"github.com/nipunasudha/monopoly-polymarket-agent/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status",
	Long:  `Show whether the agent is running and, when it is, its lane queues and approval stats.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if !daemon.IsRunning(pidFile) {
		fmt.Println("Agent is not running")
		return nil
	}

	pid, _ := daemon.ReadPID(pidFile)
	fmt.Printf("Agent is running (PID %d)\n", pid)

	if !cfg.Gateway.Enabled {
		fmt.Println("Gateway disabled, no further status available")
		return nil
	}

	status, err := fetchStatus(cfg)
	if err != nil {
		fmt.Printf("Gateway unreachable: %v\n", err)
		return nil
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format status: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func fetchStatus(cfg *config.Config) (map[string]interface{}, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	url := fmt.Sprintf("http://%s:%d/api/status", cfg.Gateway.Host, cfg.Gateway.Port)

	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return status, nil
}
