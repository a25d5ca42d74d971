package cachemdw

import "errors"

var (
	ErrRequestIsNotCacheable  = errors.New("request is not cacheable")
	ErrResponseIsNotCacheable = errors.New("response is not cacheable")
	ErrInvalidNamespaceName   = errors.New("namespace name must be non empty and must not contain colon symbol")
)
