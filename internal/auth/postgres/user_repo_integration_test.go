//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/authtest"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
)

var _ = Describe("UserRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.UserRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncateUsers()
		repo = postgres.NewUserRepository(testPool)
	})

	Describe("Create", func() {
		It("assigns sequential ids starting at 1", func() {
			email := "alice@example.com"
			first := &auth.User{Username: "alice1", Email: &email, PasswordHash: "h"}
			Expect(repo.Create(ctx, first)).To(Succeed())
			Expect(first.ID).To(Equal(int64(1)))
			Expect(first.CreatedAt).NotTo(BeZero())
			Expect(first.UpdatedAt).To(Equal(first.CreatedAt))

			second := &auth.User{Username: "bobby1", PasswordHash: "h"}
			Expect(repo.Create(ctx, second)).To(Succeed())
			Expect(second.ID).To(Equal(int64(2)))
		})

		It("maps the username constraint", func() {
			Expect(repo.Create(ctx, &auth.User{Username: "alice1", PasswordHash: "h"})).To(Succeed())
			err := repo.Create(ctx, &auth.User{Username: "alice1", PasswordHash: "h"})
			Expect(err).To(MatchError(auth.ErrDuplicateUsername))
		})

		It("maps the email constraint", func() {
			email := "alice@example.com"
			Expect(repo.Create(ctx, &auth.User{Username: "alice1", Email: &email, PasswordHash: "h"})).To(Succeed())
			err := repo.Create(ctx, &auth.User{Username: "bobby1", Email: &email, PasswordHash: "h"})
			Expect(err).To(MatchError(auth.ErrDuplicateEmail))
		})

		It("treats usernames as case-sensitive", func() {
			Expect(repo.Create(ctx, &auth.User{Username: "alice1", PasswordHash: "h"})).To(Succeed())
			Expect(repo.Create(ctx, &auth.User{Username: "Alice1", PasswordHash: "h"})).To(Succeed())
		})
	})

	Describe("lookups", func() {
		It("finds by id, username and email", func() {
			email := "alice@example.com"
			user := &auth.User{Username: "alice1", Email: &email, PasswordHash: "h"}
			Expect(repo.Create(ctx, user)).To(Succeed())

			byID, err := repo.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.Username).To(Equal("alice1"))

			byName, err := repo.GetByUsername(ctx, "alice1")
			Expect(err).NotTo(HaveOccurred())
			Expect(byName.ID).To(Equal(user.ID))

			byEmail, err := repo.GetByEmail(ctx, email)
			Expect(err).NotTo(HaveOccurred())
			Expect(byEmail.ID).To(Equal(user.ID))
		})

		It("reports missing users as not found", func() {
			_, err := repo.GetByID(ctx, 404)
			Expect(err).To(MatchError(auth.ErrNotFound))
			_, err = repo.GetByUsername(ctx, "nobody")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("UpdatePassword", func() {
		It("refreshes updated_at", func() {
			user := &auth.User{Username: "alice1", PasswordHash: "old"}
			Expect(repo.Create(ctx, user)).To(Succeed())

			updatedAt, err := repo.UpdatePassword(ctx, user.ID, "new")
			Expect(err).NotTo(HaveOccurred())
			Expect(updatedAt).To(BeTemporally(">=", user.UpdatedAt))

			stored, err := repo.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PasswordHash).To(Equal("new"))
		})
	})

	Describe("concurrent registration", func() {
		It("lets exactly one register win", func() {
			sessions, err := auth.NewSessionManager(authtest.NewSessions(), 0)
			Expect(err).NotTo(HaveOccurred())
			resets, err := auth.NewResetTokenService(authtest.NewResets(), 0)
			Expect(err).NotTo(HaveOccurred())
			svc, err := auth.NewService(auth.Dependencies{
				Users:    repo,
				Hasher:   authtest.FastHasher(),
				Sessions: sessions,
				Resets:   resets,
				Notifier: &authtest.Outbox{},
				Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
			}, auth.Options{})
			Expect(err).NotTo(HaveOccurred())

			const n = 10
			var wg sync.WaitGroup
			var mu sync.Mutex
			created := 0
			for range n {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					resp, err := svc.Register(ctx, auth.NewSessionContext(""), auth.RegisterInput{
						Username: "racer1", Password: "secret1",
					})
					Expect(err).NotTo(HaveOccurred())
					if resp.User != nil {
						mu.Lock()
						created++
						mu.Unlock()
					} else {
						Expect(resp.Errors).To(ConsistOf(auth.FieldError{Field: auth.FieldUsername, Message: auth.MsgUsernameTaken}))
					}
				}()
			}
			wg.Wait()
			Expect(created).To(Equal(1))

			var count int
			Expect(testPool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&count)).To(Succeed())
			Expect(count).To(Equal(1))
		})
	})
})
