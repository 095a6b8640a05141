package models

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
	"gorm.io/gorm"
)

// Document is a file attached to a record: an appraisal slip on a sale, a
// supplier receipt on a purchase, a KYC scan on a customer. The file itself
// lives in cloud storage; this row only carries the URL and the polymorphic
// link back to its owner.
type Document struct {
	ID            int    `gorm:"primary_key" json:"id"`
	DocumentUrl   string `json:"document_url"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   int    `json:"reference_id"`
}

type NewDocument struct {
	HasId
	HasIsDeleted
	DocumentUrl string `json:"document_url"`
}

// UploadResponse is what upload and remove calls hand back to the caller.
type UploadResponse struct {
	FileUrl  string `json:"file_url"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

func mapNewDocuments(input []*NewDocument, referenceType string, referenceId int) ([]*Document, error) {

	var documents []*Document
	for _, i := range input {
		d, err := i.MapInput(referenceType, referenceId)
		if err != nil {
			return nil, err
		}
		documents = append(documents, d)
	}
	return documents, nil
}

// map for updating
// db.Model(m).Updates(...)
func (input NewDocument) Fillable() (map[string]interface{}, error) {
	if err := utils.CheckDocumentExistInGCS(input.DocumentUrl); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"DocumentUrl": input.DocumentUrl,
	}, nil
}

// for create
func (input NewDocument) MapInput(referenceType string, referenceId int) (*Document, error) {
	if err := utils.CheckDocumentExistInGCS(input.DocumentUrl); err != nil {
		return nil, err
	}
	return &Document{
		DocumentUrl:   input.DocumentUrl,
		ReferenceType: referenceType,
		ReferenceID:   referenceId,
	}, nil
}

func (d *Document) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(&d).Error
}

func (d *Document) Delete(tx *gorm.DB, ctx context.Context) error {
	if err := tx.WithContext(ctx).Delete(&d).Error; err != nil {
		return err
	}
	if err := utils.DeleteObjectFromGCS(ctx, utils.ExtractObjectKeyFromURL(d.DocumentUrl)); err != nil {
		return err
	}
	return nil
}

func (d *Document) Update(tx *gorm.DB, ctx context.Context, fillable map[string]interface{}) error {
	return tx.WithContext(ctx).Model(&d).Updates(fillable).Error
}

// Documents are looked up by bare id, so ownership has to be proven through
// the record they hang on. Unknown reference types are denied rather than
// risking a cross-tenant read.
func GetDocument(ctx context.Context, id int) (*Document, error) {

	var result Document
	db := config.GetDB()
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, utils.MapDBError(err, "Document", id)
	}

	if skip, ok := utils.GetSkipTenantScopeFromContext(ctx); ok && skip {
		return &result, nil
	}
	if isAdmin, ok := utils.GetIsAdminFromContext(ctx); ok && isAdmin {
		return &result, nil
	}

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if result.ReferenceType == "" || result.ReferenceID <= 0 {
		return nil, errors.New("unauthorized")
	}

	tableByRefType := map[string]string{
		"sales":     "sales",
		"purchases": "purchases",
		"customers": "customers",
		"suppliers": "suppliers",
		"products":  "products",
	}

	table, ok := tableByRefType[result.ReferenceType]
	if !ok || table == "" {
		return nil, errors.New("unauthorized")
	}

	var count int64
	if err := db.WithContext(ctx).
		Table(table).
		Where("organization_id = ? AND id = ?", organizationId, result.ReferenceID).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, errors.New("unauthorized")
	}

	return &result, nil
}

// Object keys live under the organization so a leaked key never crosses
// tenants: $organizationId/documents/$unique$ext
func documentObjectKey(organizationId string, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return organizationId + "/documents/" + utils.GenerateUniqueFilename() + ext
}

// UploadFile streams an attachment through the backend into the bucket and
// hands back the URL to attach. The small-file path; bulky scans go through
// CreateDocumentUploadURL instead.
func UploadFile(ctx context.Context, fileName string, content io.Reader) (*UploadResponse, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, utils.NewValidationError("file name is required")
	}

	objectKey := documentObjectKey(organizationId, fileName)
	mimeType, size, err := utils.UploadDocumentToGCS(ctx, objectKey, content)
	if err != nil {
		return nil, err
	}

	return &UploadResponse{
		FileUrl:  utils.BuildObjectAccessURL(objectKey),
		FileName: fileName,
		MimeType: mimeType,
		FileSize: size,
	}, nil
}

// CreateDocumentUploadURL signs a direct-to-bucket PUT for one attachment.
// The caller uploads, then submits the AccessURL as a document_url; the
// attach path re-checks that the object really exists.
func CreateDocumentUploadURL(ctx context.Context, fileName string, contentType string) (*utils.SignedUpload, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, utils.NewValidationError("file name is required")
	}
	if !utils.IsAllowedDocumentMimeType(contentType) {
		return nil, utils.NewValidationErrorf("unsupported file type: %s", contentType)
	}

	objectKey := documentObjectKey(organizationId, fileName)
	return utils.SignDocumentUpload(ctx, objectKey, contentType, 15*time.Minute)
}

// RemoveFile deletes an uploaded file that never got attached to a record.
// Files referenced by a document row stay put until the row goes away.
func RemoveFile(ctx context.Context, fullUrl string) (*UploadResponse, error) {

	var count int64
	db := config.GetDB()

	if err := db.Model(&Document{}).WithContext(ctx).Where("document_url = ?", fullUrl).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("cannot delete file associated with database")
	}

	objectName := utils.ExtractObjectKeyFromURL(fullUrl)
	if objectName == "" {
		return nil, errors.New("invalid url")
	}
	if ok, err := utils.ObjectExistsInGCS(ctx, objectName); !ok || err != nil {
		return nil, errors.New("object does not exist")
	}

	if err := utils.DeleteObjectFromGCS(ctx, objectName); err != nil {
		return nil, err
	}

	return &UploadResponse{
		FileUrl: fullUrl,
	}, nil
}

func upsertDocuments(ctx context.Context, tx *gorm.DB, inputDocuments []*NewDocument, referenceType string, referenceId int) ([]*Document, error) {
	return UpsertPolymorphicAssociation(ctx, tx, inputDocuments, referenceType, referenceId)
}

func deleteDocuments(ctx context.Context, tx *gorm.DB, documents []*Document) error {
	for _, doc := range documents {
		if err := doc.Delete(tx, ctx); err != nil {
			return err
		}
	}
	return nil
}
