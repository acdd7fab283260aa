package main

type contextKey string

const userContextKey contextKey = "user"
