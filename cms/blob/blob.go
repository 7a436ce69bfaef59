/*Package blob stores uploaded image files outside of the database.

There are two possible backends: a local file system and AWS S3.
*/
package blob

import "io"

// Driver defines the interface for the blob stores
type Driver interface {
	Store(key string, data []byte) error
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
}

// DriverType represents the different types of blob store drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation
const DriverTypeAWSS3 DriverType = "AWSS3"

// None is used when uploads are disabled
const None DriverType = ""
