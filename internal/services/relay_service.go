package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/session"
	"github.com/otcheredev/ris-dicom-relay/internal/sharelink"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
	"github.com/otcheredev/ris-dicom-relay/internal/transmitter"
)

// AuditLister reads recorded runs
type AuditLister interface {
	List(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

// RelayService handles business logic behind the HTTP API
type RelayService struct {
	session     *session.Coordinator
	transmitter *transmitter.Transmitter
	binary      storage.BinaryStore
	audits      AuditLister
}

// NewRelayService creates a new relay service. audits may be nil.
func NewRelayService(
	coordinator *session.Coordinator,
	tr *transmitter.Transmitter,
	binary storage.BinaryStore,
	audits AuditLister,
) *RelayService {
	return &RelayService{
		session:     coordinator,
		transmitter: tr,
		binary:      binary,
		audits:      audits,
	}
}

// Session returns the coordinator
func (s *RelayService) Session() *session.Coordinator {
	return s.session
}

// Anonymize runs the given policy, or the saved one when policy is nil
func (s *RelayService) Anonymize(ctx context.Context, studyUIDs []string, policy *models.AnonymizationPolicy) ([]session.RunReport, error) {
	if len(studyUIDs) == 0 {
		return nil, models.ConfigError("no studies selected")
	}
	if policy == nil {
		saved, err := s.session.Policy(ctx)
		if err != nil {
			return nil, err
		}
		policy = &saved
	}
	return s.session.AnonymizeSelected(ctx, studyUIDs, *policy)
}

// Send transmits to the given server, or the saved one when server is nil
func (s *RelayService) Send(ctx context.Context, studyUIDs []string, server *models.ServerConfig) ([]session.RunReport, error) {
	if len(studyUIDs) == 0 {
		return nil, models.ConfigError("no studies selected")
	}
	resolved, err := s.resolveServer(ctx, server)
	if err != nil {
		return nil, err
	}
	return s.session.SendSelected(ctx, studyUIDs, *resolved)
}

// TestConnection checks the given or saved server
func (s *RelayService) TestConnection(ctx context.Context, server *models.ServerConfig) (*models.ConnectionStatus, error) {
	resolved, err := s.resolveServer(ctx, server)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ok := s.transmitter.TestConnection(ctx, *resolved)
	status := &models.ConnectionStatus{
		IsConnected:  ok,
		LastChecked:  start,
		ResponseTime: time.Since(start).Milliseconds(),
	}
	if !ok {
		status.ErrorMessage = fmt.Sprintf("server %s did not answer a study query", resolved.BaseURL())
	}
	return status, nil
}

// ShareProject encodes the saved settings into a link below baseURL
func (s *RelayService) ShareProject(ctx context.Context, baseURL, name string) (string, *sharelink.ProjectState, error) {
	server, err := s.session.ServerConfig(ctx)
	if err != nil {
		return "", nil, err
	}
	policy, err := s.session.Policy(ctx)
	if err != nil {
		return "", nil, err
	}

	created := time.Now().UTC().Truncate(time.Second)
	state := &sharelink.ProjectState{
		ID:           uuid.NewString(),
		Name:         name,
		CreatedAt:    &created,
		ServerConfig: server,
		Policy:       &policy,
	}
	link, err := sharelink.ToURL(baseURL, *state)
	if err != nil {
		return "", nil, err
	}
	return link, state, nil
}

// LoadProject decodes a shared link, or a bare parameter value, and saves
// the settings it carries. It returns the link without the parameter.
func (s *RelayService) LoadProject(ctx context.Context, link string) (*sharelink.ProjectState, string, error) {
	var (
		state    *sharelink.ProjectState
		stripped string
		err      error
	)
	if strings.Contains(link, "://") || strings.Contains(link, "?") {
		u, perr := url.Parse(link)
		if perr != nil {
			return nil, "", models.ConfigError("invalid project link: %v", perr)
		}
		var clean *url.URL
		state, clean, err = sharelink.FromURL(u)
		if err != nil {
			return nil, "", err
		}
		stripped = clean.String()
	} else {
		state, err = sharelink.Decode(link)
		if err != nil {
			return nil, "", err
		}
	}

	if err := state.Validate(); err != nil {
		return nil, "", err
	}
	if state.ServerConfig != nil {
		if err := s.session.SaveServerConfig(ctx, *state.ServerConfig); err != nil {
			return nil, "", err
		}
	}
	if state.Policy != nil {
		if err := s.session.SavePolicy(ctx, *state.Policy); err != nil {
			return nil, "", err
		}
	}
	return state, stripped, nil
}

// StorageUsage reports the binary store's usage
func (s *RelayService) StorageUsage(ctx context.Context) (storage.Usage, error) {
	usage, err := s.binary.UsageInfo(ctx)
	if err != nil {
		return storage.Usage{}, models.NewError(models.KindStorage, "", err)
	}
	return usage, nil
}

// AuditLog lists recorded runs, newest first
func (s *RelayService) AuditLog(ctx context.Context, limit, offset int) ([]models.AuditLog, error) {
	if s.audits == nil {
		return []models.AuditLog{}, nil
	}
	return s.audits.List(ctx, limit, offset)
}

func (s *RelayService) resolveServer(ctx context.Context, server *models.ServerConfig) (*models.ServerConfig, error) {
	if server != nil {
		return server, nil
	}
	saved, err := s.session.ServerConfig(ctx)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, models.ConfigError("no server configured")
	}
	return saved, nil
}
