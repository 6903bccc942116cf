package obsws

import (
	"context"
	"encoding/json"
)

// RecordStatus is the reply of GetRecordStatus.
type RecordStatus struct {
	OutputActive   bool   `json:"outputActive"`
	OutputPaused   bool   `json:"outputPaused"`
	OutputTimecode string `json:"outputTimecode"`
	OutputDuration int    `json:"outputDuration"` // milliseconds
	OutputBytes    int64  `json:"outputBytes"`
}

// GetRecordStatus queries OBS for current recording status
func (c *Client) GetRecordStatus(ctx context.Context) (*RecordStatus, error) {
	resp, err := c.sendRequest(ctx, "GetRecordStatus", nil)
	if err != nil {
		return nil, err
	}
	var data RecordStatus
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// StartRecord starts the record output.
func (c *Client) StartRecord(ctx context.Context) error {
	_, err := c.sendRequest(ctx, "StartRecord", nil)
	return err
}

// StopRecord stops the record output and returns the file OBS wrote.
func (c *Client) StopRecord(ctx context.Context) (string, error) {
	resp, err := c.sendRequest(ctx, "StopRecord", nil)
	if err != nil {
		return "", err
	}
	var data struct {
		OutputPath string `json:"outputPath"`
	}
	if len(resp.ResponseData) > 0 {
		if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
			return "", err
		}
	}
	return data.OutputPath, nil
}

// SetRecordDirectory sets the folder OBS records into.
func (c *Client) SetRecordDirectory(ctx context.Context, dir string) error {
	_, err := c.sendRequest(ctx, "SetRecordDirectory", map[string]interface{}{
		"recordDirectory": dir,
	})
	return err
}

// SetFilenameFormatting configures OBS recording filename format
func (c *Client) SetFilenameFormatting(ctx context.Context, format string) error {
	_, err := c.sendRequest(ctx, "SetProfileParameter", map[string]interface{}{
		"parameterCategory": "Output",
		"parameterName":     "FilenameFormatting",
		"parameterValue":    format,
	})
	return err
}

// SetVideoSettings sets the output resolution and frame rate.
func (c *Client) SetVideoSettings(ctx context.Context, width, height, fps int) error {
	_, err := c.sendRequest(ctx, "SetVideoSettings", map[string]interface{}{
		"outputWidth":    width,
		"outputHeight":   height,
		"fpsNumerator":   fps,
		"fpsDenominator": 1,
	})
	return err
}

// GetVersion retrieves OBS and WebSocket plugin versions
func (c *Client) GetVersion(ctx context.Context) (string, string, error) {
	resp, err := c.sendRequest(ctx, "GetVersion", nil)
	if err != nil {
		return "", "", err
	}
	var data struct {
		OBSVersion          string `json:"obsVersion"`
		OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return "", "", err
	}
	return data.OBSVersion, data.OBSWebSocketVersion, nil
}
