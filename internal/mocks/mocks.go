package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"conversation-console/internal/api"
	"conversation-console/internal/models"
)

type SummaryRepositoryMock struct {
	mock.Mock
}

func (m *SummaryRepositoryMock) UpsertSummary(ctx context.Context, s models.StudentSummary) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *SummaryRepositoryMock) GetSummary(ctx context.Context, studentID string) (models.StudentSummary, error) {
	args := m.Called(ctx, studentID)
	var s models.StudentSummary
	if val := args.Get(0); val != nil {
		s = val.(models.StudentSummary)
	}
	return s, args.Error(1)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) UploadFile(ctx context.Context, up api.Upload) (api.UploadResult, error) {
	args := m.Called(ctx, up)
	var res api.UploadResult
	if val := args.Get(0); val != nil {
		res = val.(api.UploadResult)
	}
	return res, args.Error(1)
}

type HTTPFallbackMock struct {
	mock.Mock
}

func (m *HTTPFallbackMock) FetchMessages(ctx context.Context, studentID string) ([]models.Message, error) {
	args := m.Called(ctx, studentID)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *HTTPFallbackMock) SendMessage(ctx context.Context, studentID, text string, tags models.Hashtags, priority models.Priority) (models.Message, error) {
	args := m.Called(ctx, studentID, text, tags, priority)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) Notify(conversationID, text string) {
	m.Called(conversationID, text)
}
