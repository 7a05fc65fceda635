package util

import (
	"encoding/json"
)

// EncoderDecoder converts values of one type to and from their stored byte
// form. Storage layers take one as a dependency so the wire format stays
// swappable.
type EncoderDecoder[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (*T, error)
}

type jsonEncDec[T any] struct{}

func NewJsonEncoderDecoder[T any]() EncoderDecoder[T] {
	return jsonEncDec[T]{}
}

func (jsonEncDec[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

func (jsonEncDec[T]) Decode(data []byte) (*T, error) {
	res := new(T)
	if err := json.Unmarshal(data, res); err != nil {
		return nil, err
	}
	return res, nil
}
