package dataset

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// IDX magic numbers for unsigned-byte images (3 dimensions) and labels
// (1 dimension).
const (
	idxImagesMagic = 0x00000803
	idxLabelsMagic = 0x00000801
)

// ReadIDXImages reads an IDX image file.
//
// Layout:
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes
//	number of cols: 4 bytes
//	pixel data: unsigned bytes (0-255)
func ReadIDXImages(r io.Reader) (images [][]byte, rows, cols int, err error) {
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, 0, 0, fmt.Errorf("read magic: %w", err)
	}
	if magic != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("invalid magic number: got %d, want %d", magic, idxImagesMagic)
	}

	var dims [3]uint32
	if err := binary.Read(r, binary.BigEndian, &dims); err != nil {
		return nil, 0, 0, fmt.Errorf("read dimensions: %w", err)
	}
	count, rows, cols := int(dims[0]), int(dims[1]), int(dims[2])

	images = make([][]byte, count)
	for i := range images {
		images[i] = make([]byte, rows*cols)
		if _, err := io.ReadFull(r, images[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("read image %d: %w", i, err)
		}
	}
	return images, rows, cols, nil
}

// ReadIDXLabels reads an IDX label file.
//
// Layout:
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes
func ReadIDXLabels(r io.Reader) ([]byte, error) {
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != idxLabelsMagic {
		return nil, fmt.Errorf("invalid magic number: got %d, want %d", magic, idxLabelsMagic)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	labels := make([]byte, count)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}

// DecodeIDX combines IDX images and labels into a dataset of [1, rows, cols]
// inputs scaled to [0, 1]. At most limit samples are kept when limit > 0.
func DecodeIDX(images, labels io.Reader, classes, limit int) (*Dataset, error) {
	rawImages, rows, cols, err := ReadIDXImages(images)
	if err != nil {
		return nil, fmt.Errorf("dataset: images: %w", err)
	}
	rawLabels, err := ReadIDXLabels(labels)
	if err != nil {
		return nil, fmt.Errorf("dataset: labels: %w", err)
	}
	if len(rawImages) != len(rawLabels) {
		return nil, fmt.Errorf("dataset: image count (%d) != label count (%d)", len(rawImages), len(rawLabels))
	}

	n := len(rawImages)
	if limit > 0 && n > limit {
		n = limit
	}
	if classes <= 0 {
		classes = 10
	}

	d := &Dataset{
		Inputs:  make([][]float32, n),
		Labels:  make([]int32, n),
		Shape:   []int{1, rows, cols},
		Classes: classes,
	}
	for i := 0; i < n; i++ {
		pixels := make([]float32, rows*cols)
		for j, p := range rawImages[i] {
			pixels[j] = float32(p) / 255.0
		}
		d.Inputs[i] = pixels
		d.Labels[i] = int32(rawLabels[i])
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadIDX reads an image file and its label file from disk.
func LoadIDX(imagesPath, labelsPath string, classes, limit int) (*Dataset, error) {
	images, err := os.Open(imagesPath)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer images.Close()

	labels, err := os.Open(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer labels.Close()

	return DecodeIDX(images, labels, classes, limit)
}
