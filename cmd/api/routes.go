package main

import (
	"net/http"

	"github.com/0xrinful/rush"
	"github.com/go-chi/cors"
)

func (app *application) routes() http.Handler {
	r := rush.New()
	r.NotFound = http.HandlerFunc(app.notFoundResponse)

	r.Get("/healthcheck", app.healthcheck)

	r.Post("/auth/signup", app.signup)
	r.Post("/auth/login", app.login)
	r.Post("/auth/logout", app.logout)
	r.Post("/auth/refresh-token", app.refreshToken)

	protected := func(h http.HandlerFunc) http.Handler {
		return app.requireAuthenticated(h)
	}

	r.Handle("/book", protected(app.listBooks), "GET")
	r.Handle("/book", protected(app.createBook), "POST")
	r.Handle("/book/{id}", protected(app.showBook), "GET")
	r.Handle("/book/{id}", protected(app.updateBook), "PUT")
	r.Handle("/book/{id}", protected(app.deleteBook), "DELETE")

	r.Handle("/reader", protected(app.listReaders), "GET")
	r.Handle("/reader", protected(app.createReader), "POST")
	r.Handle("/reader/{id}", protected(app.showReader), "GET")
	r.Handle("/reader/{id}", protected(app.updateReader), "PUT")
	r.Handle("/reader/{id}", protected(app.deleteReader), "DELETE")

	r.Handle("/issueBook", protected(app.listIssues), "GET")
	r.Handle("/issueBook", protected(app.createIssue), "POST")
	r.Handle("/issueBook/overdue", protected(app.listOverdue), "GET")
	r.Handle("/issueBook/{id}", protected(app.showIssue), "GET")
	r.Handle("/issueBook/return/{id}", protected(app.returnIssue), "POST")
	r.Handle("/issueBook/updateOverdue/{id}", protected(app.markNotified), "PUT")

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   app.config.cors.trustedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	})

	return app.recoverPanic(app.rateLimit(corsHandler(app.session.LoadAndSave(app.authenticate(r)))))
}
