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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"
	"github.com/valyala/fastrand"

	"github.com/mlberg/gradnlm/internal/grad"
	"github.com/mlberg/gradnlm/internal/nlm"
	"github.com/mlberg/gradnlm/internal/qsort"
	"github.com/mlberg/gradnlm/internal/rest"
)

const version = "0.1.0"

var totalMiBs=memory.TotalMemory()/1024/1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out   = flag.String("out", "out.json", "save filtered field to `file`")
var serve = flag.Bool("serve", false, "serve the filter API over HTTP instead of filtering a file")
var port  = flag.Int("port", 8080, "port to listen on with -serve")
var bench = flag.String("bench", "", "filter a synthetic uniform-noise field of size `WxH` instead of an input file")

var searchRadius    = flag.Int64("searchRadius", 5, "half-size of the candidate search window")
var patchRadius     = flag.Int64("patchRadius", 1, "half-size of the comparison patches")
var rho             = flag.Float64("rho", 1.5, "weighting smoothness, larger keeps more dissimilar patches")
var countTargetMean = flag.Float64("countTargetMean", 30, "image-wide mean Poisson rate to auto-scale to")
var lamQuant        = flag.Float64("lamQuant", 0.02, "rate quantization step for the distance cache")
var topK            = flag.Int64("topK", 0, "keep only the K most similar candidates, 0=all")
var threads         = flag.Int64("threads", 0, "parallel workers, 0=all logical CPUs")

// A gradient field serialized as JSON: two row-major planes of width*height values
type fieldFile struct {
	Width      int32     `json:"width"`
	Height     int32     `json:"height"`
	Gx         []float32 `json:"gx"`
	Gy         []float32 `json:"gy"`
	CountScale float32   `json:"countScale,omitempty"`
}

func main() {
	logWriter:=os.Stdout
	flag.Usage=func() {
		fmt.Fprintf(logWriter, `gradnlm v%s -- Poisson non-local means denoising for gradient fields
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.

Usage: gradnlm [-flag value] (input.json | -bench WxH | -serve)

Flags:
`, version)
		flag.PrintDefaults()
	}
	flag.Parse()

	fmt.Fprintf(logWriter, "gradnlm v%s on %s (%d logical cores, %d MiB RAM)\n",
	            version, cpuid.CPU.BrandName, cpuid.CPU.LogicalCores, totalMiBs)

	if *cpuprofile!="" {
		f, err:=os.Create(*cpuprofile)
		if err!=nil { fatalf(logWriter, "could not create CPU profile: %s\n", err) }
		defer f.Close()
		if err:=pprof.StartCPUProfile(f); err!=nil { fatalf(logWriter, "could not start CPU profile: %s\n", err) }
		defer pprof.StopCPUProfile()
	}

	if *serve {
		logger:=zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
		if err:=rest.Serve(*port, float32(*lamQuant), logger); err!=nil {
			fatalf(logWriter, "serve: %s\n", err)
		}
		return
	}

	op:=&nlm.OpPoissonNLM{
		SearchRadius:    int32(*searchRadius),
		PatchRadius:     int32(*patchRadius),
		Rho:             float32(*rho),
		CountTargetMean: float32(*countTargetMean),
		LamQuant:        float32(*lamQuant),
		TopK:            int32(*topK),
		MaxThreads:      int(*threads),
	}

	var gx, gy *grad.Plane
	var err error
	if *bench!="" {
		gx, gy, err=syntheticField(*bench)
	} else {
		if flag.NArg()!=1 {
			flag.Usage()
			os.Exit(2)
		}
		gx, gy, err=loadField(flag.Arg(0))
	}
	if err!=nil { fatalf(logWriter, "%s\n", err) }

	fmt.Fprintf(logWriter, "Loaded %s gradient field, median magnitude %.4g\n",
	            gx.DimensionsToString(), medianMagnitude(gx, gy))

	start:=time.Now()
	outGx, outGy, countScale, err:=op.Apply(gx, gy, logWriter)
	if err!=nil { fatalf(logWriter, "%s\n", err) }
	fmt.Fprintf(logWriter, "Filtered in %v, median magnitude %.4g\n",
	            time.Since(start), medianMagnitude(outGx, outGy))

	if *out!="" && *bench=="" {
		if err:=saveField(*out, outGx, outGy, countScale); err!=nil {
			fatalf(logWriter, "saving %s: %s\n", *out, err)
		}
		fmt.Fprintf(logWriter, "Saved filtered field to %s\n", *out)
	}

	if *memprofile!="" {
		f, err:=os.Create(*memprofile)
		if err!=nil { fatalf(logWriter, "could not create memory profile: %s\n", err) }
		defer f.Close()
		if err:=pprof.WriteHeapProfile(f); err!=nil { fatalf(logWriter, "could not write memory profile: %s\n", err) }
	}
}

func fatalf(logWriter *os.File, format string, args ...interface{}) {
	fmt.Fprintf(logWriter, format, args...)
	os.Exit(1)
}

// Reads a JSON gradient field from the given file
func loadField(fileName string) (gx, gy *grad.Plane, err error) {
	data, err:=os.ReadFile(fileName)
	if err!=nil { return nil, nil, err }
	var ff fieldFile
	if err=json.Unmarshal(data, &ff); err!=nil {
		return nil, nil, fmt.Errorf("parsing %s: %s", fileName, err)
	}
	n:=int(ff.Width)*int(ff.Height)
	if ff.Width<=0 || ff.Height<=0 || len(ff.Gx)!=n || len(ff.Gy)!=n {
		return nil, nil, fmt.Errorf("%s: planes must both hold width*height=%d values, got %d and %d",
		                            fileName, n, len(ff.Gx), len(ff.Gy))
	}
	gx=grad.NewPlaneFromData(ff.Width, ff.Height, ff.Gx)
	gy=grad.NewPlaneFromData(ff.Width, ff.Height, ff.Gy)
	return gx, gy, nil
}

// Writes a JSON gradient field to the given file
func saveField(fileName string, gx, gy *grad.Plane, countScale float32) error {
	ff:=fieldFile{
		Width:      gx.Width,
		Height:     gx.Height,
		Gx:         gx.Data,
		Gy:         gy.Data,
		CountScale: countScale,
	}
	data, err:=json.Marshal(&ff)
	if err!=nil { return err }
	return os.WriteFile(fileName, data, 0644)
}

// Generates a reproducible uniform-noise gradient field of the given WxH size
func syntheticField(size string) (gx, gy *grad.Plane, err error) {
	parts:=strings.Split(size, "x")
	if len(parts)!=2 {
		return nil, nil, fmt.Errorf("invalid bench size %q, expected WxH", size)
	}
	w, errW:=strconv.Atoi(parts[0])
	h, errH:=strconv.Atoi(parts[1])
	if errW!=nil || errH!=nil || w<1 || h<1 {
		return nil, nil, fmt.Errorf("invalid bench size %q, expected WxH", size)
	}

	rng:=fastrand.RNG{}
	rng.Seed(42)
	gx=grad.NewPlane(int32(w), int32(h))
	gy=grad.NewPlane(int32(w), int32(h))
	for i:=range gx.Data {
		gx.Data[i]=float32(rng.Uint32())*(1.0/float32(math.MaxUint32)) - 0.5
		gy.Data[i]=float32(rng.Uint32())*(1.0/float32(math.MaxUint32)) - 0.5
	}
	return gx, gy, nil
}

// Returns the median gradient magnitude of the field, for log output
func medianMagnitude(gx, gy *grad.Plane) float32 {
	mags:=make([]float32, len(gx.Data))
	for i, x:=range gx.Data {
		y:=gy.Data[i]
		mags[i]=float32(math.Sqrt(float64(x)*float64(x) + float64(y)*float64(y)))
	}
	if len(mags)==0 { return 0 }
	return qsort.QSelectMedianFloat32(mags)
}
