package model

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// SaveModel は任意の値をMessagePack形式でファイルに保存します。
// 一時ファイルに書き込んでからリネームするため、途中で失敗しても既存のファイルは壊れません。
//
// 使用例:
//
//	if err := model.SaveModel(artifact, "artifacts/model/model.msgpack"); err != nil {
//	    return err
//	}
func SaveModel(v interface{}, filename string) (err error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return errors.NewArtifactError("SaveModel", filename, "cannot create directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".tmp-*")
	if err != nil {
		return errors.NewArtifactError("SaveModel", filename, "cannot create file", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := SaveModelToWriter(v, w); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return errors.NewArtifactError("SaveModel", filename, "write failed", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewArtifactError("SaveModel", filename, "close failed", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return errors.NewArtifactError("SaveModel", filename, "rename failed", err)
	}
	return nil
}

// LoadModel はMessagePack形式のファイルからvへ読み込みます。
// ファイルが存在しない場合は "artifact missing" のModelErrorを返します。
func LoadModel(v interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewArtifactError("LoadModel", filename, "artifact missing", err)
		}
		return errors.NewArtifactError("LoadModel", filename, "cannot open file", err)
	}
	defer file.Close()

	if err := LoadModelFromReader(v, bufio.NewReader(file)); err != nil {
		return errors.Wrapf(err, "load %s", filename)
	}
	return nil
}

// SaveModelToWriter はvをMessagePack形式でwに書き込みます。
func SaveModelToWriter(v interface{}, w io.Writer) error {
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return errors.NewModelError("SaveModelToWriter", "encode failed", err)
	}
	return nil
}

// LoadModelFromReader はrからMessagePack形式のデータをvへ読み込みます。
// 破損したデータは "artifact corrupt" のModelErrorになります。
func LoadModelFromReader(v interface{}, r io.Reader) error {
	dec := msgpack.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return errors.NewModelError("LoadModelFromReader", "artifact corrupt", err)
	}
	return nil
}
