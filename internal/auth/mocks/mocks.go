// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/gatekeep/gatekeep/internal/auth"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

func register(t testingT, m *mock.Mock) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

// MockUserRepository is a mock auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a mock whose expectations are asserted on cleanup.
func NewMockUserRepository(t testingT) *MockUserRepository {
	m := &MockUserRepository{}
	register(t, &m.Mock)
	return m
}

func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	ret := m.Called(ctx, user)
	if fn, ok := ret.Get(0).(func(context.Context, *auth.User) error); ok {
		return fn(ctx, user)
	}
	return ret.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	ret := m.Called(ctx, id)
	return userResult(ret)
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	ret := m.Called(ctx, username)
	return userResult(ret)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	ret := m.Called(ctx, email)
	return userResult(ret)
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id int64, hash string) (time.Time, error) {
	ret := m.Called(ctx, id, hash)
	updatedAt, _ := ret.Get(0).(time.Time)
	return updatedAt, ret.Error(1)
}

func userResult(ret mock.Arguments) (*auth.User, error) {
	user, _ := ret.Get(0).(*auth.User)
	return user, ret.Error(1)
}

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock whose expectations are asserted on cleanup.
func NewMockPasswordHasher(t testingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	register(t, &m.Mock)
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := m.Called(password)
	return ret.String(0), ret.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	ret := m.Called(password, hash)
	return ret.Bool(0), ret.Error(1)
}

// MockSessionStore is a mock auth.SessionStore.
type MockSessionStore struct {
	mock.Mock
}

// NewMockSessionStore creates a mock whose expectations are asserted on cleanup.
func NewMockSessionStore(t testingT) *MockSessionStore {
	m := &MockSessionStore{}
	register(t, &m.Mock)
	return m
}

func (m *MockSessionStore) Save(ctx context.Context, id string, userID int64, ttl time.Duration) error {
	return m.Called(ctx, id, userID, ttl).Error(0)
}

func (m *MockSessionStore) Load(ctx context.Context, id string) (int64, error) {
	ret := m.Called(ctx, id)
	userID, _ := ret.Get(0).(int64)
	return userID, ret.Error(1)
}

func (m *MockSessionStore) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockSessionStore) DeleteByUser(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}

// MockResetTokenStore is a mock auth.ResetTokenStore.
type MockResetTokenStore struct {
	mock.Mock
}

// NewMockResetTokenStore creates a mock whose expectations are asserted on cleanup.
func NewMockResetTokenStore(t testingT) *MockResetTokenStore {
	m := &MockResetTokenStore{}
	register(t, &m.Mock)
	return m
}

func (m *MockResetTokenStore) Put(ctx context.Context, token string, userID int64, ttl time.Duration) error {
	return m.Called(ctx, token, userID, ttl).Error(0)
}

func (m *MockResetTokenStore) Take(ctx context.Context, token string) (int64, error) {
	ret := m.Called(ctx, token)
	userID, _ := ret.Get(0).(int64)
	return userID, ret.Error(1)
}

func (m *MockResetTokenStore) Delete(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

// MockNotifier is a mock auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a mock whose expectations are asserted on cleanup.
func NewMockNotifier(t testingT) *MockNotifier {
	m := &MockNotifier{}
	register(t, &m.Mock)
	return m
}

func (m *MockNotifier) Send(ctx context.Context, to, subject, html string) error {
	return m.Called(ctx, to, subject, html).Error(0)
}

var (
	_ auth.UserRepository  = (*MockUserRepository)(nil)
	_ auth.PasswordHasher  = (*MockPasswordHasher)(nil)
	_ auth.SessionStore    = (*MockSessionStore)(nil)
	_ auth.ResetTokenStore = (*MockResetTokenStore)(nil)
	_ auth.Notifier        = (*MockNotifier)(nil)
)
