// Package devserver serves the Lambda handler over plain HTTP for local
// development against DynamoDB Local.
package devserver

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// LambdaFunc has the signature of handler.Handler.Handle.
type LambdaFunc func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

const maxBodyBytes = 1 << 20

// NewRouter returns a gin engine that forwards /api/* to fn. An empty
// allowOrigins list allows every origin.
func NewRouter(fn LambdaFunc, allowOrigins []string) (*gin.Engine, error) {
	if fn == nil {
		return nil, errors.New("devserver: lambda func must not be nil")
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Correlation-Id"},
		ExposeHeaders: []string{"X-Correlation-Id", "X-Poll-Interval-Ms"},
	}
	if len(allowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowOrigins
		corsConfig.AllowCredentials = true
	}
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.Any("/api/*path", proxy(fn))
	return r, nil
}

func proxy(fn LambdaFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "message": "invalid_body"})
			return
		}

		resp, err := fn(c.Request.Context(), toEvent(c.Request, body))
		if err != nil {
			slog.Error("lambda handler failed", "err", err, "path", c.Request.URL.Path)
			c.JSON(http.StatusBadGateway, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
			return
		}

		for k, v := range resp.Headers {
			c.Header(k, v)
		}
		for k, vs := range resp.MultiValueHeaders {
			for _, v := range vs {
				c.Writer.Header().Add(k, v)
			}
		}
		out := []byte(resp.Body)
		if resp.IsBase64Encoded {
			if out, err = base64.StdEncoding.DecodeString(resp.Body); err != nil {
				slog.Error("invalid base64 response body", "err", err)
				c.Status(http.StatusBadGateway)
				return
			}
		}
		c.Status(resp.StatusCode)
		_, _ = c.Writer.Write(out)
	}
}

func toEvent(r *http.Request, body []byte) events.APIGatewayProxyRequest {
	headers := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		headers[k] = strings.Join(vs, ",")
	}
	var query map[string]string
	if q := r.URL.Query(); len(q) > 0 {
		query = make(map[string]string, len(q))
		for k, vs := range q {
			query[k] = vs[0]
		}
	}
	return events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               headers,
		MultiValueHeaders:     r.Header,
		QueryStringParameters: query,
		Body:                  string(body),
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"correlationId", c.Writer.Header().Get("X-Correlation-Id"),
		)
	}
}
