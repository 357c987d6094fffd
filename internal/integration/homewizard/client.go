package homewizard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client speaks the HomeWizard Energy local API (v1).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	ProductType     string `json:"product_type"`
	Serial          string `json:"serial"`
	FirmwareVersion string `json:"firmware_version"`
	APIVersion      string `json:"api_version"`
}

type Measurement struct {
	ActivePowerW        *float64 `json:"active_power_w"`
	TotalPowerImportKWh *float64 `json:"total_power_import_kwh"`
	TotalPowerExportKWh *float64 `json:"total_power_export_kwh"`
	ActiveVoltageV      *float64 `json:"active_voltage_v"`
	WifiStrength        *float64 `json:"wifi_strength"`
}

func NewClient(host string) *Client {
	baseURL := host
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) DeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	var info DeviceInfo
	if err := c.get(ctx, "/api", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Measurement(ctx context.Context) (*Measurement, error) {
	var data Measurement
	if err := c.get(ctx, "/api/v1/data", &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("homewizard api error: %s %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
