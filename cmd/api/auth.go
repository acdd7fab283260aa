package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/shelfwise/shelfwise/internal/data"
	"github.com/shelfwise/shelfwise/internal/validator"
)

func (app *application) signup(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v := validator.New()
	v.Check(validator.NotBlank(input.Name), "name", "must be provided")
	v.Check(len(input.Name) >= 3, "name", "must be more than 3 bytes long")
	v.Check(len(input.Name) <= 500, "name", "must not be more than 500 bytes long")
	data.ValidateEmail(v, input.Email)
	data.ValidatePasswordPlaintext(v, input.Password)

	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	user := &data.User{
		Name:  input.Name,
		Email: input.Email,
	}

	err = user.Password.Set(input.Password)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.models.Users.Insert(user)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrDuplicateEmail):
			v.AddError("email", "this email address already exists")
			app.failedValidationResponse(w, r, v.Errors)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusCreated, envelope{
		"message": "user created successfully",
		"user":    user,
	}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) login(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v := validator.New()
	data.ValidateEmail(v, input.Email)
	data.ValidatePasswordPlaintext(v, input.Password)

	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	user, err := app.models.Users.GetByEmail(input.Email)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.invalidCredentialsResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	match, err := user.Password.Matches(input.Password)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	if !match {
		app.invalidCredentialsResponse(w, r)
		return
	}

	// Rotate the session token on privilege change.
	err = app.session.RenewToken(r.Context())
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	app.session.Put(r.Context(), "authenticatedUserID", user.ID)

	err = app.writeJSON(w, http.StatusOK, envelope{
		"message":   "logged in successfully",
		"user":      user,
		"expiresAt": time.Now().Add(app.session.Lifetime).UTC(),
	}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) logout(w http.ResponseWriter, r *http.Request) {
	err := app.session.RenewToken(r.Context())
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	app.session.Remove(r.Context(), "authenticatedUserID")

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "logged out successfully"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// refreshToken extends an authenticated session by one lifetime and rotates
// the session token. An expired or missing session cannot be refreshed; the
// client has to log in again.
func (app *application) refreshToken(w http.ResponseWriter, r *http.Request) {
	if app.contextGetUser(r) == nil {
		app.authenticationRequiredResponse(w, r)
		return
	}

	err := app.session.RenewToken(r.Context())
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{
		"message":   "session refreshed",
		"expiresAt": time.Now().Add(app.session.Lifetime).UTC(),
	}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
