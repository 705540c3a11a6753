package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyweave-server/internal/messaging"
)

// Mock InterventionTaskPublisher
type InterventionTaskPublisher struct {
	mock.Mock
}

func (m *InterventionTaskPublisher) PublishInterventionTask(ctx context.Context, payload messaging.InterventionTaskPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

// Mock TurnEventPublisher
type TurnEventPublisher struct {
	mock.Mock
}

func (m *TurnEventPublisher) PublishTurnEvent(ctx context.Context, payload messaging.TurnEventPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}
