// The sitecms service is the content-management backend for the
// company website. It serves the content resource routes, the login
// route and the image upload boundary on a single port.
package main

import (
	"strings"

	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/webkontor/sitecms/cms"
	"github.com/webkontor/sitecms/cms/blob"
	"github.com/webkontor/sitecms/cms/kafka"
	"github.com/webkontor/sitecms/core/access"
	"github.com/webkontor/sitecms/core/csql"
	"github.com/webkontor/sitecms/core/logger"
	"github.com/webkontor/sitecms/core/registry"
)

var contactPageSchema = `{
	"$id": "` + cms.ContactPageSchemaID + `",
	"type": "object",
	"required": ["heading", "description", "email", "phone",
		"messenger_label", "messenger_url", "messenger_icon_url",
		"address_lines", "open_hours", "map_title", "map_embed_url"],
	"properties": {
		"heading": {"type": "string"},
		"description": {"type": "string"},
		"email": {"type": "string"},
		"phone": {"type": "string"},
		"messenger_label": {"type": "string"},
		"messenger_url": {"type": "string"},
		"messenger_icon_url": {"type": "string"},
		"address_lines": {"type": "array", "items": {"type": "string"}},
		"open_hours": {"type": "string"},
		"map_title": {"type": "string"},
		"map_embed_url": {"type": "string"}
	}
}`

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,default=" description:"password to the Postgres DB"`
	Port             string `env:"PORT,default=3000" description:"the port to listen on"`
	AdminUsername    string `env:"ADMIN_USERNAME,default=admin" description:"username of the bootstrap admin account"`
	AdminPassword    string `env:"ADMIN_PASSWORD,required" description:"password of the bootstrap admin account"`
	KafkaBrokers     string `env:"KAFKA_BROKERS,default=" description:"comma-separated Kafka brokers for change notifications, empty disables them"`
	KafkaTopic       string `env:"KAFKA_TOPIC,default=sitecms-events" description:"Kafka topic for change notifications"`
	UploadFolder     string `env:"UPLOAD_FOLDER,default=./uploads" description:"base folder for the local upload store"`
	S3Bucket         string `env:"S3_BUCKET,default=" description:"S3 bucket for uploads, empty selects the local store"`
	S3Region         string `env:"S3_REGION,default=eu-central-1" description:"S3 region for uploads"`
	S3AccessID       string `env:"S3_ACCESS_ID,default=" description:"S3 access id for uploads"`
	S3AccessKey      string `env:"S3_ACCESS_KEY,default=" description:"S3 access key for uploads"`
}

func main() {
	logger.InitLogger(logrus.InfoLevel)
	rlog := logger.Default()

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, "sitecms")
	defer db.Close()

	var uploads blob.Driver
	var err error
	if service.S3Bucket != "" {
		uploads, err = blob.NewS3(blob.S3Configuration{
			AccessID:      service.S3AccessID,
			AccessKey:     service.S3AccessKey,
			AWSRegion:     service.S3Region,
			AWSBucketName: service.S3Bucket,
			KeyPrefix:     "uploads/",
		})
	} else {
		uploads, err = blob.NewLocalFilesystem(service.UploadFolder)
	}
	if err != nil {
		panic(err)
	}

	var notifier *kafka.Notifier
	router := mux.NewRouter()
	logger.AddRequestID(router)

	builder := &cms.Builder{
		DB:          db,
		Router:      router,
		Uploads:     uploads,
		JSONSchemas: []string{contactPageSchema},
	}
	if service.KafkaBrokers != "" {
		notifier = kafka.NewNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer notifier.Close()
		builder.Notifier = notifier
	}
	cms.New(builder)

	reg := registry.New(db)
	tokens, err := access.NewTokenAuth(&access.TokenAuthBuilder{Registry: reg})
	if err != nil {
		panic(err)
	}
	router.Use(tokens.Middleware())
	access.HandleLoginRoute(router, db, tokens)

	if err := access.EnsureAccount(db, service.AdminUsername, service.AdminPassword, "admin"); err != nil {
		panic(err)
	}

	handler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(router)
	handler = handlers.CombinedLoggingHandler(rlog.Writer(), handler)

	rlog.Infoln("listen on port :" + service.Port)
	http.ListenAndServe(":"+service.Port, handler)
}
