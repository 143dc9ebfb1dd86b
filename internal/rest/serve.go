// Copyright (C) 2025 Martin L. Berg
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package rest

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mlberg/gradnlm/internal/grad"
	"github.com/mlberg/gradnlm/internal/nlm"
)

// Serves the filter over HTTP. Owns one distance table shared across
// requests; /api/v1/cache/clear resets it, e.g. when switching to images
// with a very different rate distribution.
type server struct {
	table  *nlm.DistTable
	logger zerolog.Logger
}

// Listens and serves the filter API on the given port, blocking forever.
// The distance table persists across requests under the given quantization
// step, which must be >0; requests may not change it.
func Serve(port int, lamQuant float32, logger zerolog.Logger) error {
	if lamQuant<=0 {
		return fmt.Errorf("invalid rate quantization step %g, must be >0", lamQuant)
	}
	s:=&server{
		table:  nlm.NewDistTable(lamQuant),
		logger: logger,
	}
	s.logger.Info().Int("port", port).Msg("serving filter API")
	return s.router().Run(fmt.Sprintf(":%d", port))
}

func (s *server) router() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",        getPing)
			v1.POST("/filter",      s.postFilter)
			v1.POST("/cache/clear", s.postCacheClear)
		}
	}
	return r
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

type postFilterArgs struct {
	Width  int32             `json:"width"`
	Height int32             `json:"height"`
	Gx     []float32         `json:"gx"`
	Gy     []float32         `json:"gy"`
	Op     *nlm.OpPoissonNLM `json:"op"`
}

type postFilterReply struct {
	Gx           []float32 `json:"gx"`
	Gy           []float32 `json:"gy"`
	CountScale   float32   `json:"countScale"`
	CacheEntries int       `json:"cacheEntries"`
}

func (s *server) postFilter(c *gin.Context) {
	var args postFilterArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if args.Op==nil { args.Op=nlm.NewOpPoissonNLM() }

	// the server-wide cache fixes the quantization step for all requests:
	// an omitted op.lamQuant inherits it, a conflicting one is rejected
	// rather than silently quantized with the server's step
	if args.Op.LamQuant==0 { args.Op.LamQuant=s.table.Quant() }
	if args.Op.LamQuant!=s.table.Quant() {
		c.JSON(http.StatusBadRequest, gin.H{"error":
			fmt.Sprintf("op.lamQuant %g differs from the server quantization step %g; omit it or restart the server with -lamQuant %g",
			            args.Op.LamQuant, s.table.Quant(), args.Op.LamQuant)})
		return
	}

	n:=int(args.Width)*int(args.Height)
	if args.Width<=0 || args.Height<=0 || len(args.Gx)!=n || len(args.Gy)!=n {
		c.JSON(http.StatusBadRequest, gin.H{"error":
			fmt.Sprintf("gradient planes must both hold width*height=%d values, got %d and %d", n, len(args.Gx), len(args.Gy))})
		return
	}

	// reuse the server-wide cache across requests
	args.Op.Table=s.table

	gx:=grad.NewPlaneFromData(args.Width, args.Height, args.Gx)
	gy:=grad.NewPlaneFromData(args.Width, args.Height, args.Gy)
	outGx, outGy, countScale, err:=args.Op.Apply(gx, gy, nil)
	if err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	s.logger.Info().
		Str("dimensions", gx.DimensionsToString()).
		Float32("countScale", countScale).
		Int("cacheEntries", s.table.Len()).
		Msg("filtered gradient field")

	c.JSON(http.StatusOK, postFilterReply{
		Gx:           outGx.Data,
		Gy:           outGy.Data,
		CountScale:   countScale,
		CacheEntries: s.table.Len(),
	})
}

func (s *server) postCacheClear(c *gin.Context) {
	entries:=s.table.Len()
	s.table.Clear()
	s.logger.Info().Int("dropped", entries).Msg("cleared distance cache")
	c.JSON(http.StatusOK, gin.H{"dropped": entries})
}
