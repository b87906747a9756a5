package model

import (
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// SaveJSON はvをインデント付きJSONとしてファイルに保存する
//
// 一時ファイルに書き込んでからリネームするため、途中で失敗しても
// 既存のファイルが壊れることはない。
func SaveJSON(v interface{}, filename string) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", filename)
	}
	defer os.Remove(tmp.Name())

	if err := EncodeJSON(v, tmp); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to encode %s", filename)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", filename)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return errors.Wrapf(err, "failed to rename into %s", filename)
	}
	return nil
}

// LoadJSON はファイルからJSONを読み込みvにデコードする
func LoadJSON(v interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", filename)
	}
	defer file.Close()

	if err := DecodeJSON(v, file); err != nil {
		return errors.Wrapf(err, "failed to decode %s", filename)
	}
	return nil
}

// EncodeJSON はvをio.Writerにインデント付きで書き込む
func EncodeJSON(v interface{}, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// DecodeJSON はio.Readerからvを読み込む
func DecodeJSON(v interface{}, r io.Reader) error {
	return json.NewDecoder(r).Decode(v)
}
