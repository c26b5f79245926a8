package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
)

const (
	defaultTimeout = 30 * time.Second

	tagFailedSOPSequence       = "00081198"
	tagReferencedSOPSequence   = "00081199"
	tagReferencedSOPInstanceID = "00081155"
	tagFailureReason           = "00081197"
)

// DICOMWebAdapter implements Adapter over plain HTTP
type DICOMWebAdapter struct {
	config  models.ServerConfig
	client  *http.Client
	baseURL string
}

// NewDICOMWebAdapter creates a new DICOMweb adapter
func NewDICOMWebAdapter(config models.ServerConfig) (*DICOMWebAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &DICOMWebAdapter{
		config: config,
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: config.BaseURL(),
	}, nil
}

func (d *DICOMWebAdapter) Capabilities() []string {
	return []string{"STOW-RS", "QIDO-RS"}
}

// BaseURL returns the DICOMweb root the adapter talks to
func (d *DICOMWebAdapter) BaseURL() string {
	return d.baseURL
}

// StoreInstances posts the instances as one multipart/related STOW-RS request
func (d *DICOMWebAdapter) StoreInstances(ctx context.Context, studyUID string, instances ...Instance) (*StoreResult, error) {
	if len(instances) == 0 {
		return &StoreResult{}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, inst := range instances {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/dicom")
		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart part: %w", err)
		}
		if _, err := part.Write(inst.Data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", inst.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	storeURL := d.baseURL + "/studies"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, storeURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	d.addAuth(req)
	req.Header.Set("Content-Type", fmt.Sprintf(`multipart/related; type="application/dicom"; boundary=%s`, mw.Boundary()))
	req.Header.Set("Accept", "application/dicom+json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	result := &StoreResult{StatusCode: resp.StatusCode}
	parseStoreResponse(respBody, result)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return result, nil
	case resp.StatusCode == http.StatusAccepted:
		if len(result.Failed) > 0 {
			return result, fmt.Errorf("server stored %d of %d instances: %s", len(result.Stored), len(instances), result.Failed[0].Reason)
		}
		return result, nil
	default:
		return result, fmt.Errorf("server returned status %d: %s", resp.StatusCode, truncate(string(respBody), 256))
	}
}

// FindStudies queries for studies using QIDO-RS
func (d *DICOMWebAdapter) FindStudies(ctx context.Context, params models.QueryParams) ([]models.DicomJSON, error) {
	queryURL := d.baseURL + "/studies"

	urlParams := url.Values{}
	if params.PatientID != "" {
		urlParams.Add("PatientID", params.PatientID)
	}
	if params.PatientName != "" {
		urlParams.Add("PatientName", params.PatientName)
	}
	if params.StudyDate != "" {
		urlParams.Add("StudyDate", params.StudyDate)
	}
	if params.AccessionNumber != "" {
		urlParams.Add("AccessionNumber", params.AccessionNumber)
	}
	if params.StudyInstanceUID != "" {
		urlParams.Add("StudyInstanceUID", params.StudyInstanceUID)
	}
	if params.Limit > 0 {
		urlParams.Add("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		urlParams.Add("offset", strconv.Itoa(params.Offset))
	}

	if len(urlParams) > 0 {
		queryURL = queryURL + "?" + urlParams.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	d.addAuth(req)
	req.Header.Set("Accept", "application/dicom+json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	var studies []models.DicomJSON
	if err := json.NewDecoder(resp.Body).Decode(&studies); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return studies, nil
}

// TestConnection issues a one-result study query
func (d *DICOMWebAdapter) TestConnection(ctx context.Context) (*models.ConnectionStatus, error) {
	start := time.Now()
	status := &models.ConnectionStatus{
		LastChecked: start,
	}

	_, err := d.FindStudies(ctx, models.QueryParams{Limit: 1})

	status.ResponseTime = time.Since(start).Milliseconds()

	if err != nil {
		status.IsConnected = false
		status.ErrorMessage = err.Error()
		return status, err
	}

	status.IsConnected = true
	status.Capabilities = d.Capabilities()
	return status, nil
}

// Close closes the adapter
func (d *DICOMWebAdapter) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// addAuth adds authentication and custom headers to the request
func (d *DICOMWebAdapter) addAuth(req *http.Request) {
	for name, value := range d.config.Headers {
		req.Header.Set(name, value)
	}
	switch d.config.AuthType {
	case models.AuthBearer:
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", d.config.Token))
	case models.AuthBasic:
		req.SetBasicAuth(d.config.Username, d.config.Password)
	}
}

// parseStoreResponse reads the referenced and failed SOP sequences of a
// STOW-RS response; bodies that are not DICOM JSON are ignored
func parseStoreResponse(body []byte, result *StoreResult) {
	if len(bytes.TrimSpace(body)) == 0 {
		return
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return
	}
	referenced := sequenceItems(doc[tagReferencedSOPSequence])
	failed := sequenceItems(doc[tagFailedSOPSequence])

	for _, item := range referenced {
		result.Stored = append(result.Stored, models.DicomJSON(item).String(tagReferencedSOPInstanceID))
	}
	for _, item := range failed {
		failure := models.StoreFailure{SOPInstanceUID: models.DicomJSON(item).String(tagReferencedSOPInstanceID)}
		if attr, ok := item[tagFailureReason]; ok && len(attr.Value) > 0 {
			failure.Reason = fmt.Sprintf("failure reason %v", attr.Value[0])
		}
		result.Failed = append(result.Failed, failure)
	}
}

func sequenceItems(raw json.RawMessage) []map[string]models.DicomJSONAttribute {
	if len(raw) == 0 {
		return nil
	}
	var seq struct {
		Value []map[string]models.DicomJSONAttribute `json:"Value"`
	}
	if err := json.Unmarshal(raw, &seq); err != nil {
		return nil
	}
	return seq.Value
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
